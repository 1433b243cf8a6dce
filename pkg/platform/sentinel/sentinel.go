package sentinel

import "errors"

// Sentinel errors for storage facts. Identity, clinical, cache and journal
// stores return these (optionally wrapped) so the entity service can decide
// whether an absence is a "null" result, a not-found error, or a miss.
//
//   - ErrNotFound: no record under the requested key
//   - ErrConflict: a record already exists under the key being created
//   - ErrInvalidState: a record exists but cannot take the requested transition
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
