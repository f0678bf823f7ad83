package deployment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

var (
	// ErrLedgerNotFound is returned by Load when no ledger has been written yet.
	// It is the only load failure that callers may recover from (by bootstrapping).
	ErrLedgerNotFound = errors.New("ledger not found")
	// ErrLedgerLocked means another run holds the ledger. Only one run per ledger is supported.
	ErrLedgerLocked = errors.New("ledger is locked by another run")
)

// CorruptLedgerError is returned when a ledger file exists but cannot be decoded or validated.
// It is never treated as "absent".
type CorruptLedgerError struct {
	Path string
	Err  error
}

func (e *CorruptLedgerError) Error() string {
	return fmt.Sprintf("ledger %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptLedgerError) Unwrap() error {
	return e.Err
}

// Validator is implemented by ledger values that can check their own structure after decoding.
type Validator interface {
	Validate() error
}

// LedgerPath returns the canonical location of a ledger file for a network.
func LedgerPath(dir, network, name string) string {
	return filepath.Join(dir, network, name)
}

// FileStore persists a single JSON document. Writes go to a temp file in the same directory
// which is fsynced and renamed over the target, so a crash never leaves a half written ledger.
type FileStore[T any] struct {
	path string
	lock *flock.Flock
}

func NewFileStore[T any](path string) *FileStore[T] {
	return &FileStore[T]{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *FileStore[T]) Path() string {
	return s.path
}

func (s *FileStore[T]) Load(ctx context.Context) (T, error) {
	var out T
	if err := ctx.Err(); err != nil {
		return out, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, errors.Wrap(ErrLedgerNotFound, s.path)
		}
		return out, errors.Wrapf(err, "read ledger %s", s.path)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, &CorruptLedgerError{Path: s.path, Err: errors.New("empty file")}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &CorruptLedgerError{Path: s.path, Err: err}
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, &CorruptLedgerError{Path: s.path, Err: err}
		}
	}
	return out, nil
}

// Encode renders a value exactly as Save would write it.
func Encode[T any](v T) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (s *FileStore[T]) Save(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(v)
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create ledger dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp ledger")
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cause
	}
	if _, err := tmp.Write(b); err != nil {
		return cleanup(errors.Wrap(err, "write temp ledger"))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(errors.Wrap(err, "sync temp ledger"))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp ledger")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "replace ledger %s", s.path)
	}
	return nil
}

// Remove deletes the ledger. Removing a ledger that does not exist is not an error.
func (s *FileStore[T]) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "remove ledger %s", s.path)
	}
	return nil
}

// Lock takes an exclusive advisory lock next to the ledger file. It does not block:
// a concurrent run gets ErrLedgerLocked.
func (s *FileStore[T]) Lock() (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger dir")
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", s.lock.Path())
	}
	if !ok {
		return nil, errors.Wrap(ErrLedgerLocked, strings.TrimSuffix(s.lock.Path(), ".lock"))
	}
	return s.lock.Unlock, nil
}
