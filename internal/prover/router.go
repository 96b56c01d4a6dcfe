package prover

import "strings"

// Router selects a backend per task from the accelerator hint carried on
// the submission. Unknown or empty hints fall back to the default backend,
// mirroring how GPU-routed provers degrade to CPU when the accelerator is
// absent.
type Router struct {
	def      Backend
	variants map[string]Backend
}

// NewRouter creates a router with the given default backend.
func NewRouter(def Backend) *Router {
	return &Router{def: def, variants: make(map[string]Backend)}
}

// Register adds an accelerator variant under the given hint (e.g. "gpu").
func (r *Router) Register(hint string, b Backend) {
	r.variants[strings.ToLower(hint)] = b
}

// Pick returns the backend for a hint, falling back to the default.
func (r *Router) Pick(hint string) Backend {
	if b, ok := r.variants[strings.ToLower(hint)]; ok {
		return b
	}
	return r.def
}

// Default returns the default backend.
func (r *Router) Default() Backend { return r.def }

// Backends returns every distinct registered backend, default included.
// The aggregator uses this to resolve a proof's shape to its verifier.
func (r *Router) Backends() []Backend {
	out := []Backend{r.def}
	seen := map[string]bool{r.def.Shape().ID(): true}
	for _, b := range r.variants {
		if id := b.Shape().ID(); !seen[id] {
			seen[id] = true
			out = append(out, b)
		}
	}
	return out
}
