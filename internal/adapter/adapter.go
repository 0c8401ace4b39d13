package adapter

import (
	"time"

	"github.com/marcus/fastresume/internal/record"
)

// Adapter is the five-method contract every session-source implementation
// satisfies.
type Adapter interface {
	// Name returns the canonical agent tag stored on every Session this
	// adapter produces.
	Name() string

	// IsAvailable reports whether the adapter's source root exists.
	IsAvailable() bool

	// FindSessions performs a full scan and returns every current session.
	FindSessions() ([]record.Session, error)

	// FindSessionsIncremental diffs the current on-disk state against
	// known and returns sessions to upsert and ids to delete. known must
	// only be consulted for entries whose Agent equals this adapter's
	// Name — cross-agent id collisions must never cause cross-agent
	// deletes.
	FindSessionsIncremental(known record.KnownMap) (upserts []record.Session, deletedIDs []string, err error)

	// ResumeCommand returns the argv that resumes session, or nil if
	// unsupported. yolo toggles adapter-specific approval/sandbox flags.
	ResumeCommand(session record.Session, yolo bool) []string
}

// Full runs a complete scan by delegating to FindSessionsIncremental with
// an empty known map: this is the only implementation of full-scan
// semantics, so the two algorithms cannot drift apart.
func Full(a Adapter) ([]record.Session, error) {
	upserts, _, err := a.FindSessionsIncremental(nil)
	return upserts, err
}

// DeletionsForMissingRoot returns the deletion set an adapter must report
// when its source root does not exist: every id in known whose Agent is
// this adapter's Name.
func DeletionsForMissingRoot(name string, known record.KnownMap) []string {
	var deleted []string
	for id, entry := range known {
		if entry.Agent == name {
			deleted = append(deleted, id)
		}
	}
	return deleted
}

// MTimeTolerance is the 1ms slack required because mtime is round-tripped
// through a broader-precision instant type in the index.
const MTimeTolerance = time.Millisecond
