// Package store is the SQLite-backed record store.
//
// The engine itself only sees flat records (column name -> value) behind
// small interfaces; this package is the shipped implementation. Table
// schemas are owned by the caller - the store never creates or migrates
// record tables, it only reads and mutates rows in them. Soft-delete
// discipline and file-field metadata come from the schema registry.
//
// SQLite is configured with WAL mode and a single writer connection; each
// individual INSERT/UPDATE/DELETE is atomic, which is the entire
// concurrency contract the engine relies on.
package store
