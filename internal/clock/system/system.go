// Package system provides the wall clock and a pinned clock for reproducible builds.
package system

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock implements pipeline.Clock. The zero value reads the wall clock.
type Clock struct {
	fixed *time.Time
}

// New creates a wall Clock.
func New() *Clock {
	return &Clock{}
}

// NewFixed creates a Clock that always reports t.
func NewFixed(t time.Time) *Clock {
	t = t.UTC()
	return &Clock{fixed: &t}
}

// FromSourceDateEpoch returns a Clock pinned to epoch, the SOURCE_DATE_EPOCH convention of
// Unix seconds. An empty value yields the wall clock.
func FromSourceDateEpoch(epoch string) (*Clock, error) {
	epoch = strings.TrimSpace(epoch)
	if epoch == "" {
		return New(), nil
	}
	secs, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse SOURCE_DATE_EPOCH %q: %w", epoch, err)
	}
	return NewFixed(time.Unix(secs, 0)), nil
}

// Now returns the current (or pinned) time in UTC.
func (c Clock) Now() time.Time {
	if c.fixed != nil {
		return *c.fixed
	}
	return time.Now().UTC()
}
