// Package repository provides a generic repository over any bun.IDB: a
// pooled *bun.DB, the connection behind a database.Handle, or a bun.Tx.
// It covers CRUD, filtered queries, pagination and dialect-aware upserts.
package repository
