// Package preflight provides readiness checks for the filesystem paths, the
// node and the stage configuration that conveyor depends on.
//
// The CLI "conveyor doctor" command runs RunAll and prints each Result. The
// node binary calls CheckDirectoryAccess on its data directory before opening
// the store, and "conveyor worker" pings the node with CheckNode before
// starting its workers.
package preflight
