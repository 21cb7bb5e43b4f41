package pipeline

import (
	"errors"
	"fmt"
)

// Pass-through conditions: the reference is not an image this pipeline handles.
var (
	ErrUnresolvableReference = errors.New("unresolvable module reference")
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
)

// ErrInvalidConfiguration fails a single module load.
var ErrInvalidConfiguration = errors.New("invalid transform configuration")

// InvalidConfigurationf wraps ErrInvalidConfiguration with detail.
func InvalidConfigurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// IsPassThrough reports whether err means "not handled here".
func IsPassThrough(err error) bool {
	return errors.Is(err, ErrUnresolvableReference) || errors.Is(err, ErrUnsupportedMediaType)
}

// CodecError reports a failed decode, transform or encode.
type CodecError struct {
	Op   string
	Path string
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// FlushError aggregates the writes that failed during a build flush.
type FlushError struct {
	Failed []string
	Err    error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed for %d asset(s): %v", len(e.Failed), e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}
