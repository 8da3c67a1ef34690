package singleton

// DefaultResolver keeps the holder that registered first, so the side
// that has been running longest survives a partition heal and the
// younger claimant backs off. Ties on the start timestamp fall back to
// the handle order. The result depends only on the two handle values.
func DefaultResolver(key string, a, b Handle) Handle {
	if a.StartedAt.Before(b.StartedAt) {
		return a
	}
	if b.StartedAt.Before(a.StartedAt) {
		return b
	}
	if a.Less(b) {
		return a
	}
	return b
}

// orderPair returns the two handles in canonical order. Registries order
// the conflicting pair before invoking a resolver so both partition
// sides observe the identical call.
func orderPair(a, b Handle) (Handle, Handle) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}
