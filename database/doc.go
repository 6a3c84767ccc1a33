// Package database bootstraps the application's store on top of Bun: it
// runs versioned SQL migrations against a history table, then lazily builds
// the shared connection factory that hands out short-lived handles.
//
// A Manager is constructed once at startup and passed to consumers:
//
//	m := database.NewManager(cfg)
//	defer m.Shutdown()
//
//	err := m.WithHandle(ctx, func(ctx context.Context, h *database.Handle) error {
//	    return h.DB().NewSelect().Model(&rows).Scan(ctx)
//	})
//
// The first handle request resolves credentials, migrates and constructs the
// factory exactly once, however many goroutines ask concurrently.
package database
