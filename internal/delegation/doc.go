// Package delegation maps tasks onto worker profiles and renders the work
// orders handed to an external delegation target.
//
// The category table is static and read-only once a Resolver is built.
// Resolution never fails: a task with a missing or unknown category falls back
// to the unspecified-high profile and a warning is logged. Field problems are
// reported by ValidateForDelegation as a list so callers can gate planning on
// them without aborting.
package delegation
