// Package document defines the unit of work that flows through a conveyor
// pipeline and the predicates stages use to select it.
//
// A Document carries free-form content plus engine-owned metadata: fetch and
// touch stamps per stage, per-stage error text, and the terminal markers the
// store writes when the document leaves the active set. Status is always
// derived from metadata, never stored.
//
// Writing a nil value to a content or metadata field deletes that field;
// nil never survives a merge, an update or the wire codec.
package document
