// Package api defines the coordination node's HTTP surface: endpoint paths,
// query parameter names and the JSON payloads the node returns beyond plain
// documents.
//
// # Endpoints
//
// Stage traffic (claim, write, release, the four marks, properties and file
// attachments) uses the paths workers have always spoken. Documents travel in
// the document package's wire format. Success is 200; 400 means a missing
// parameter or malformed body, 404 means no matching document or file, 403
// means the caller's host is not allow-listed and 500 is anything else. Any
// non-200 response means the request did not take effect.
//
// Operator traffic (status, document lookup, archive paging) returns the DTOs
// below and is what the conveyor CLI renders.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
