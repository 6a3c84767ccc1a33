// Package roamedge exposes the application-facing data services built on the
// database package: a generic Service over any Bun model, plus stores for
// the metadata and preference tables created by the embedded migrations.
//
//	m := database.NewManager(cfg)
//	defer m.Shutdown()
//
//	meta := roamedge.NewMetadataStore(m)
//	_ = meta.Set(ctx, "last_sync", time.Now().Format(time.RFC3339))
package roamedge
