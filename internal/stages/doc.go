// Package stages provides the built-in stage kinds a worker can run by
// naming them in the "type" property: copy, rename, remove, set, case,
// discard and log.
package stages
