package config

// Invalidation reports which cached artifacts a parameter change
// destroys. Tiers are strictly ordered — kernel above potential above
// embedding — and the constructor applies the downstream cascade, so
// readers only check final flags.
type Invalidation struct {
	// Kernel means the graph handle (and everything below) is stale.
	Kernel bool
	// Potential means the cached diffusion potential is stale.
	Potential bool
	// Embedding means the cached coordinates are stale.
	Embedding bool

	// GraphStructural means the change switches the required graph
	// type entirely (precomputed vs. built, flat vs. landmark) and the
	// handle must be discarded rather than updated in place.
	GraphStructural bool

	// Forward means a cross-cutting value (jobs, seed, verbosity)
	// changed and should be pushed to collaborators on next use.
	Forward bool
}

// Any reports whether any cached artifact was invalidated.
func (inv Invalidation) Any() bool {
	return inv.Kernel || inv.Potential || inv.Embedding
}

// Diff compares two configurations and returns the invalidation that
// moving from old to next implies.
func Diff(old, next Config) Invalidation {
	var inv Invalidation

	// Kernel tier.
	if old.K != next.K ||
		!intPtrEq(old.A, next.A) ||
		!intPtrEq(old.NPCA, next.NPCA) ||
		!intPtrEq(old.NLandmark, next.NLandmark) ||
		old.KNNDist != next.KNNDist {
		inv.Kernel = true
	}

	// Potential tier.
	if old.T != next.T || old.PotentialMethod != next.PotentialMethod {
		inv.Potential = true
	}

	// Embedding tier.
	if old.NComponents != next.NComponents ||
		old.MDS != next.MDS ||
		old.MDSDist != next.MDSDist {
		inv.Embedding = true
	}

	// Crossing into or out of precomputed-distance mode, or toggling
	// landmarking, changes the structural graph type.
	if old.Precomputed() != next.Precomputed() {
		inv.GraphStructural = true
	}
	if (old.NLandmark == nil) != (next.NLandmark == nil) {
		inv.GraphStructural = true
	}

	if old.NJobs != next.NJobs ||
		!int64PtrEq(old.RandomState, next.RandomState) ||
		old.Verbose != next.Verbose {
		inv.Forward = true
	}

	// Downstream cascade.
	if inv.GraphStructural {
		inv.Kernel = true
	}
	if inv.Kernel {
		inv.Potential = true
	}
	if inv.Potential {
		inv.Embedding = true
	}
	return inv
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
