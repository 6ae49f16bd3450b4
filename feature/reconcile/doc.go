// Package reconcile persists canonical records into the catalog.
//
// Reconciliation is idempotent: replaying a batch classifies every record
// as new, updated, unchanged or conflict against the stored state, and a
// replay of already-applied records only produces unchanged outcomes.
// Writes to the same natural key are serialized, descriptor payloads are
// promoted from staging inside the row-creating transaction, and every
// run leaves an audit record with its per-record failures.
package reconcile
