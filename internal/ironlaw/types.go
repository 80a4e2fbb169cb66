package ironlaw

import (
	"time"
)

// Violation records one failure of an iron law. Violations are never
// deleted: resolution sets ResolvedAt, preserving the audit trail.
type Violation struct {
	// ID uniquely identifies this violation occurrence
	ID string `json:"id"`
	// Law is the numeric rule id that failed
	Law int `json:"law"`
	// Type is the law's short name (e.g. "trunk_branch")
	Type string `json:"type"`
	// Message describes the failing condition as observed
	Message string `json:"message"`
	// DetectedAt is when the failing poll observed the violation
	DetectedAt time.Time `json:"detected_at"`
	// ResolvedAt is when a later poll saw the law pass; nil while open
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the violation has not yet been resolved.
func (v *Violation) Open() bool {
	return v.ResolvedAt == nil
}

// DocState is the observed state of one companion documentation file.
type DocState struct {
	// Path is relative to the repository root
	Path string
	// Exists reports whether the file is present
	Exists bool
	// ModTime is the file's last modification time (zero if missing)
	ModTime time.Time
}

// Snapshot is the externally-observable state one compliance poll runs
// against. It is collected once per poll so every law judges the same
// moment, and laws themselves stay pure predicates over it.
type Snapshot struct {
	// Branch is the checked-out version-control branch ("" if unknown)
	Branch string
	// DirtyTree reports uncommitted changes in the working tree
	DirtyTree bool
	// ModulePath is the Go module path from go.mod ("" if none found)
	ModulePath string
	// Docs is the state of each required companion document
	Docs []DocState
	// NewestSourceMod is the newest modification time across source files
	NewestSourceMod time.Time
	// UnpairedSources lists implementation files with no test counterpart
	UnpairedSources []string
	// CollectedAt is when the snapshot was taken
	CollectedAt time.Time
}

// Law is one compliance rule: a pure predicate over a snapshot. Checks must
// not perform I/O; everything they judge is in the snapshot.
type Law interface {
	// ID is the stable numeric rule id
	ID() int
	// Name is the short machine-readable rule name
	Name() string
	// Check returns pass=true when the snapshot satisfies the law, and a
	// human-readable detail describing the failing condition otherwise.
	Check(snap *Snapshot) (pass bool, detail string)
}
