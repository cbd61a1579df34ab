// Package daemon runs the coordination node.
//
// A Daemon owns the document store for one data directory (guarded by a flock
// so only one node serves it) and exposes it over HTTP: the claim, write,
// release and transition endpoints stage workers use, the per-stage property
// tables, file attachments, and a few operator endpoints (status, document
// lookup, archive paging, Prometheus metrics).
//
// Requests from hosts outside node.allowed_hosts receive 403. Once the store
// is closed every request receives 500 so workers stop treating the node as
// healthy. Stage properties, the host allow-list and performance logging are
// swapped in place when the config file changes.
package daemon
