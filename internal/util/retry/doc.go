// Package retry retries transient failures with exponential backoff.
//
// [Do] runs an operation until it succeeds, returns an error marked with
// [Fatal], runs out of attempts, or its context ends. The artifact store
// uses it for object storage uploads.
package retry
