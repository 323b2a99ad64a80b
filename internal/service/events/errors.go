package events

import (
	"errors"

	"github.com/ignite/adtrack/internal/domain"
)

var (
	// ErrStoreUnavailable signals a durability-layer failure. The event was
	// not persisted; callers may retry with backoff. It is the shared
	// domain.ErrStoreUnavailable, re-exported so callers of this service
	// keep matching against the package they import.
	ErrStoreUnavailable = domain.ErrStoreUnavailable

	// ErrValidation signals a payload that is missing required fields for
	// its event type. The event is rejected before any write.
	ErrValidation = errors.New("invalid event payload")
)
