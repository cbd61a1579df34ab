// Package workflow runs one stage against the document store.
//
// A Manager owns the stage's worker slots. Each worker loops through
// fetching a document with the stage query, processing it on a separate
// execution unit bounded by the processing timeout, and persisting the
// result according to the returned Outcome. A worker whose unit overruns
// the deadline hard-fails the document and escalates; the Manager's
// supervisor then starts a fresh worker in the same slot.
//
// Workers talk to the store through a stage.Pipeline. LocalPipeline binds a
// pipeline directly to an open store.Store; the remote package provides the
// HTTP implementation used by worker processes.
package workflow
