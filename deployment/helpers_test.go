package deployment

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string  { return e.msg }
func (e dataError) ErrorData() any { return e.data }

const nftErrorsABI = `[{"type": "error", "name": "ERC721InvalidSender", "inputs": [{"name": "sender", "type": "address"}]}]`

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func TestDecodeErr(t *testing.T) {
	t.Parallel()
	parsed, err := abi.JSON(strings.NewReader(nftErrorsABI))
	require.NoError(t, err)

	assert.NoError(t, DecodeErr(parsed, nil))

	plain := errors.New("connection refused")
	assert.Equal(t, plain, DecodeErr(parsed, plain))

	reverted := dataError{msg: "execution reverted", data: revertData(t, "Auction ended")}
	decoded := DecodeErr(parsed, reverted)
	require.ErrorContains(t, decoded, "contract error: Auction ended")
	require.ErrorIs(t, decoded, reverted)

	sender := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	custom := parsed.Errors["ERC721InvalidSender"]
	packed, err := custom.Inputs.Pack(sender)
	require.NoError(t, err)
	customErr := dataError{msg: "execution reverted", data: hexutil.Encode(append(custom.ID.Bytes()[:4], packed...))}
	require.ErrorContains(t, DecodeErr(parsed, customErr), "ERC721InvalidSender")

	unknown := dataError{msg: "execution reverted", data: "0xdeadbeef"}
	require.ErrorContains(t, DecodeErr(parsed, unknown), "failed to decode error '0xdeadbeef'")

	noData := dataError{msg: "execution reverted", data: 42}
	require.ErrorContains(t, DecodeErr(parsed, noData), "error without error data")
}
