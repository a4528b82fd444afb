// Package artifact persists stage artifacts and run records.
//
// A [Store] lays artifacts out by run and step on top of a [Backend]:
//
//	<run>/<step>/artifact.json      the artifact as handed to the next step
//	<run>/<step>/contents.tar.gz    the artifact's workspace directory
//	<run>/<step>/files/<name>       reports the step wrote
//	<run>/run.json                  the final run snapshot
//
// Keys are written once. A second write to the same key fails with
// [ErrExists], which keeps every stored artifact immutable.
//
// [LocalStore] keeps objects in a directory tree; [S3Store] keeps them in an
// S3 bucket and retries transient upload failures.
package artifact
