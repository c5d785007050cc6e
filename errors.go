package csmt

import (
	"errors"
	"fmt"
)

// Sentinel errors for the seven failure kinds the engines can raise.
// Callers compare against these with errors.Is; wrapped context is attached
// with fmt.Errorf("...: %w", ...), matching the plain error style used
// throughout this codebase rather than a bespoke error hierarchy.
var (
	// ErrKeyLengthMismatch is returned when a caller-supplied key is not
	// exactly the tree's configured width.
	ErrKeyLengthMismatch = errors.New("csmt: key length mismatch")

	// ErrRootLengthMismatch is returned when a caller-supplied root is not
	// HashSize bytes wide.
	ErrRootLengthMismatch = errors.New("csmt: root length mismatch")

	// ErrKeyNotFound is returned by GetOne when a key is absent from the
	// tree at the queried root, and by proof generation for the same
	// reason. Get omits absent keys from its result instead.
	ErrKeyNotFound = errors.New("csmt: key not found")

	// ErrProofInvalid is returned by VerifyInclusionProof when a proof
	// does not recompute to the expected root.
	ErrProofInvalid = errors.New("csmt: inclusion proof invalid")

	// ErrStoreCorrupt is returned when the store's own invariants are
	// violated: a hash the tree expects to resolve returns nothing, or a
	// decoded node fails internal validation.
	ErrStoreCorrupt = errors.New("csmt: store corrupt")

	// ErrSerializationFailed is returned when a Serializer fails to
	// encode or decode a value.
	ErrSerializationFailed = errors.New("csmt: serialization failed")

	// ErrStoreBackendFailed is returned when the underlying storage
	// backend itself reports an error (I/O, network, driver).
	ErrStoreBackendFailed = errors.New("csmt: store backend failed")
)

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// wrapStoreErr classifies an error returned by a Store method: nil stays
// nil, errors already tagged with one of our sentinels pass through
// unchanged, and anything else is attributed to the backend.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrStoreCorrupt, ErrSerializationFailed, ErrStoreBackendFailed,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrStoreBackendFailed, err)
}
