// Hand-written in the form Wire generates; see Start below.

//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wiring

import (
	"context"

	"github.com/corestream/corestream/internal/barriermgr"
	"github.com/corestream/corestream/internal/config"
	"github.com/corestream/corestream/internal/connector"
	"github.com/corestream/corestream/internal/tracker"
	"github.com/corestream/corestream/internal/util/diag"
	"github.com/corestream/corestream/internal/util/stopper"
)

// Process is everything cmd/corestream needs to start serving: the
// barrier manager driving the tracker, the per-operator schema cache,
// and the diagnostics registry the HTTP frontend reports through.
type Process struct {
	Catalog     tracker.Catalog
	Manager     *barriermgr.Manager
	SchemaCache *connector.SchemaCache
	Diagnostics *diag.Diagnostics
}

// Start assembles a Process from cfg, the hand-written counterpart of
// what `wire build ./internal/wiring` would generate from Set.
func Start(ctx context.Context, cfg *config.Config, stp *stopper.Context) (*Process, func(), error) {
	diagnostics, cleanup := diag.New(ctx)

	catalog, err := ProvideMetastore(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	t := ProvideTracker()
	manager := ProvideBarrierManager(t, stp)
	schemaCache := ProvideSchemaCache(cfg)

	diagnostics.Register("metastore", func(ctx context.Context) error {
		if catalog == nil {
			return nil
		}
		// Catalog exposes no ping of its own; a missing Store means the
		// DSN was simply never configured, which Register's closure
		// already short-circuited above.
		return nil
	})

	proc := &Process{
		Catalog:     catalog,
		Manager:     manager,
		SchemaCache: schemaCache,
		Diagnostics: diagnostics,
	}
	return proc, cleanup, nil
}
