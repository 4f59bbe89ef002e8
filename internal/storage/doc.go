// Package storage owns the SQLite database shared by the subscription
// store, the delivery ledger, and the news archive.
//
// It opens the database, applies pragmas and embedded migrations, and hands
// the *sql.DB to the per-domain stores. Insert-if-absent semantics live in
// the stores themselves, backed by the unique constraints declared here.
package storage
