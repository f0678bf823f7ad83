package deployment

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codeMap map[common.Address][]byte

func (m codeMap) GetCode(_ context.Context, addr common.Address) ([]byte, error) {
	if code, ok := m[addr]; ok && code == nil {
		return nil, errors.New("rpc unavailable")
	}
	return m[addr], nil
}

func TestProber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	live := common.HexToAddress("0x01")
	dead := common.HexToAddress("0x02")
	p := NewProber(codeMap{live: {0x60}})

	probes, err := p.ProbeAll(ctx, map[string]common.Address{
		"factory.address":      live,
		"auction.proxyAddress": dead,
		"unset":                {},
	})
	require.NoError(t, err)
	require.Len(t, probes, 3)
	assert.Equal(t, []string{"auction.proxyAddress", "factory.address", "unset"}, []string{probes[0].Name, probes[1].Name, probes[2].Name})
	assert.False(t, probes[0].HasCode)
	assert.True(t, probes[1].HasCode)
	assert.False(t, probes[2].HasCode)

	gone := Dead(probes)
	require.Len(t, gone, 2)
	assert.Equal(t, dead, gone[0].Address)
	assert.Empty(t, Dead(probes[1:2]))
}

func TestProber_Errors(t *testing.T) {
	t.Parallel()
	broken := common.HexToAddress("0x03")
	p := NewProber(codeMap{broken: nil})

	_, err := p.Probe(context.Background(), "factory.address", broken)
	require.ErrorContains(t, err, "rpc unavailable")

	probes, err := p.ProbeAll(context.Background(), map[string]common.Address{
		"factory.address": broken,
		"nft":             common.HexToAddress("0x04"),
	})
	require.ErrorContains(t, err, "factory.address")
	assert.Nil(t, probes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Probe(ctx, "factory.address", common.HexToAddress("0x01"))
	require.ErrorIs(t, err, context.Canceled)
}
