// Package remote is the HTTP client of a coordination node.
//
// Client covers the operator endpoints (ping, status, document lookup,
// archive paging, stage properties, file attachments). Pipeline binds a
// Client to one stage and implements stage.Pipeline, so the workflow runtime
// drives a remote node exactly as it drives a local store.
//
// Transport failures and 5xx responses are marked services.ErrTransient so
// the runtime retries them once at the persistence boundary. A 404 on a
// document operation is the normal "no longer active" outcome and surfaces as
// false or nil rather than an error.
package remote
