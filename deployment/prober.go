package deployment

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Liveness is the result of probing one recorded address.
type Liveness struct {
	Name    string
	Address common.Address
	HasCode bool
}

// Prober checks that recorded addresses still hold deployed code. A reset devnet keeps
// no code at any previously used address, which is how a stale ledger shows up.
type Prober struct {
	reader CodeReader
}

func NewProber(reader CodeReader) *Prober {
	return &Prober{reader: reader}
}

func (p *Prober) Probe(ctx context.Context, name string, addr common.Address) (Liveness, error) {
	if err := ctx.Err(); err != nil {
		return Liveness{}, err
	}
	l := Liveness{Name: name, Address: addr}
	if addr == (common.Address{}) {
		return l, nil
	}
	code, err := p.reader.GetCode(ctx, addr)
	if err != nil {
		return l, errors.Wrapf(err, "get code for %s at %s", name, addr)
	}
	l.HasCode = len(code) > 0
	return l, nil
}

// ProbeAll probes every named address concurrently. Results are ordered by name.
func (p *Prober) ProbeAll(ctx context.Context, addrs map[string]common.Address) ([]Liveness, error) {
	names := make([]string, 0, len(addrs))
	for name := range addrs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Liveness, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			l, err := p.Probe(gctx, name, addrs[name])
			if err != nil {
				return err
			}
			out[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dead filters the probes with no code.
func Dead(probes []Liveness) []Liveness {
	var dead []Liveness
	for _, l := range probes {
		if !l.HasCode {
			dead = append(dead, l)
		}
	}
	return dead
}
