package deployment

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ReadStatus tags how much a value read through a fallback chain can be trusted.
type ReadStatus int

const (
	ReadFailed ReadStatus = iota
	// ReadOk means the value came from the authoritative source.
	ReadOk
	// ReadDegraded means the value came from an alternative or cached source.
	ReadDegraded
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOk:
		return "ok"
	case ReadDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

type ReadResult[T any] struct {
	Value    T
	Status   ReadStatus
	Strategy string
	// Reason explains why earlier strategies were skipped, or why every strategy failed.
	Reason string
}

// Ok reports whether the value came from the authoritative source.
func (r ReadResult[T]) Ok() bool {
	return r.Status == ReadOk
}

type ReadStrategy[T any] struct {
	Name     string
	Degraded bool
	Read     func(ctx context.Context) (T, error)
}

// ReadWithFallback tries strategies in order and returns the first success, tagged with
// the strategy that produced it. Failure of every strategy is a ReadFailed result, not an error;
// the combined error is returned alongside for logging.
func ReadWithFallback[T any](ctx context.Context, strategies ...ReadStrategy[T]) (ReadResult[T], error) {
	var (
		errs    error
		skipped []string
	)
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return ReadResult[T]{Status: ReadFailed, Reason: err.Error()}, err
		}
		v, err := s.Read(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name, err))
			skipped = append(skipped, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		status := ReadOk
		if s.Degraded {
			status = ReadDegraded
		}
		return ReadResult[T]{Value: v, Status: status, Strategy: s.Name, Reason: strings.Join(skipped, "; ")}, nil
	}
	return ReadResult[T]{Status: ReadFailed, Reason: strings.Join(skipped, "; ")}, errs
}
