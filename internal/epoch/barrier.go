package epoch

import "github.com/corestream/corestream/internal/ident"

// Mutation is a tagged variant carried by a Barrier. The common case is no
// mutation at all, so the zero value of the Barrier.Mutation field (a nil
// interface) must stay the hot-path default: checking "is there a
// mutation?" is a single nil comparison.
type Mutation interface {
	isMutation()
}

// Stop tells every downstream actor to terminate after processing this
// barrier.
type Stop struct{}

func (Stop) isMutation() {}

// UpdateVnodeBitmap delivers a new vnode ownership assignment, e.g. after
// a scale-in/out or recovery. Callers must swap their backing tables'
// vnode bitmaps and, if ident.MayStale reports staleness, clear caches.
type UpdateVnodeBitmap struct {
	New ident.VnodeBitmap
}

func (UpdateVnodeBitmap) isMutation() {}

// Cache carries new cache size targets, one entry per backing table.
type Cache struct {
	NewSizes map[ident.TableID]int
}

func (Cache) isMutation() {}

// Barrier is the checkpoint marker that flows downstream through the
// dataflow graph, carrying an epoch pair and, rarely, a mutation.
type Barrier struct {
	Epoch    Pair
	Kind     Kind
	Mutation Mutation // nil in the common case

	// TracingContext propagates distributed-tracing baggage; opaque to the
	// barrier protocol itself.
	TracingContext map[string]string
}

// IsCheckpoint reports whether this barrier forces a durable commit.
func (b Barrier) IsCheckpoint() bool { return b.Kind == KindCheckpoint || b.Kind == KindInitial }
