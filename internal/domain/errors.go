package domain

import "errors"

// ErrStoreUnavailable signals a storage-layer failure: the read or write did
// not happen and the caller may retry with backoff. It is shared across the
// event, replay, and integrity services so transport layers can map any
// storage outage to one retryable response.
var ErrStoreUnavailable = errors.New("event store unavailable")
