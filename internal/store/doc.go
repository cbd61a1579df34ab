// Package store persists pipeline documents in SQLite and implements the
// coordination primitives stages rely on.
//
// The Store owns four tables: the active documents, the capped archive (the
// audit log), the singleton pipeline status record and binary attachments.
// Every claim, touch and terminal transition is a single statement or a single
// IMMEDIATE transaction, so SQLite's writer lock is the only cross-worker
// synchronization. Per-tag claim indexes are created lazily and remembered
// per Store instance.
//
// Schema changes bump the version in schema.go; operators clear the data
// directory to adopt the new schema.
package store
