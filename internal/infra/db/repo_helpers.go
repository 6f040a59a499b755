package db

import (
	"fmt"

	"cloudgate/internal/domain"
)

// errDBUnavailable guards repositories built without a database handle.
// It wraps domain.ErrStoreUnavailable so callers see the same sentinel
// as for any other backend fault.
var errDBUnavailable = fmt.Errorf("%w: db not configured", domain.ErrStoreUnavailable)

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
