// Package store maps Go structs onto DynamoDB records with optimistic locking.
//
// Each entity type lives in its own table, named "namespace.set". Records are
// keyed by a single partition key attribute and carry two managed attributes:
// a generation counter bumped on every write, and an expiry used as the
// table's TTL attribute. Expired records are treated as absent by every read
// and write condition, since DynamoDB removes them lazily.
//
// # Entities
//
// Entities are plain structs described with bin and entity tags, see package
// mapping:
//
//	type Customer struct {
//	    ID      string `entity:"id"`
//	    Name    string `bin:"name"`
//	    Visits  int64  `bin:"visits"`
//	    Version int64  `entity:"version"`
//	}
//
// # Writes
//
// [Template.Save] on a versioned entity creates the record when the version
// is zero and otherwise replaces it only at the stored generation.
// [Template.Insert] fails on an existing record, [Template.Update] on a
// missing one. [Template.Add] increments counters atomically.
// [Template.Append] and [Template.Prepend] read then write conditioned on the
// generation they read.
//
// # Reads
//
// [Template.FindByID] reads one record, touching it first for entities
// declaring TouchOnRead. [Template.FindByIDs] batches reads. [Template.Find]
// scans with a [query.Query], streaming results as an iter.Seq2.
// [Repository] wraps all of these for a single type.
//
// # Configuration
//
// Use [DefaultConfig] and adjust as needed:
//
//	cfg := store.DefaultConfig()
//	cfg.Namespace = "prod"
//	cfg.DefaultExpiration = 86400
//
// # Errors
//
// Vendor errors are translated to [*DataAccessError], which matches one of:
//
//   - [ErrNotFound] - record missing or expired on a replace-only write
//   - [ErrDuplicateKey] - live record exists on a create-only write
//   - [ErrOptimisticLockingFailure] - generation mismatch
//   - [ErrTransient] - throttling and other retryable failures
//   - [ErrTimeout] - deadline exceeded
//   - [ErrInvalidUsage] - bad mapping, query or request
//   - [ErrResourceNotFound] - table missing
//   - [ErrDataAccess] - anything else from DynamoDB
package store
