// Package adapter defines the pluggable interface every session-source
// implementation satisfies, plus the shared scan/diff shim that keeps a
// full scan from drifting out of sync with the incremental one: a full
// scan is just an incremental diff against an empty known map.
package adapter
