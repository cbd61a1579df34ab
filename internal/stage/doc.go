// Package stage defines the contract between stage logic and the runtime that
// drives it.
//
// A stage implements Stage: it receives one claimed document, mutates it and
// returns an Outcome telling the runtime whether to write it back, archive it
// as processed, discarded or failed, or flag it pending. Shared behaviors
// live in helpers: DiscardOld for input deduplication, Output for
// accept/reject delivery and Mapping for field pair transforms.
//
// Config is the typed form of a stage's property table, parsed and validated
// once before any worker starts.
package stage
