package ironlaw

import (
	"fmt"
	"strings"
	"time"
)

// defaultProtectedBranches are trunk-like branch names work must not land
// on directly.
var defaultProtectedBranches = []string{"main", "master", "trunk", "develop", "production"}

// IsProtectedBranch reports whether branch is trunk-like.
func IsProtectedBranch(branch string, protected []string) bool {
	if len(protected) == 0 {
		protected = defaultProtectedBranches
	}
	b := strings.ToLower(strings.TrimSpace(branch))
	for _, p := range protected {
		if b == strings.ToLower(p) {
			return true
		}
	}
	return strings.HasPrefix(b, "release/") || strings.HasPrefix(b, "release-")
}

// TrunkBranchLaw (law 1): never work directly on a trunk branch. The law
// fires only when the tree is dirty; merely having trunk checked out with
// a clean tree is reading, not working.
type TrunkBranchLaw struct {
	// Protected overrides the default protected branch names
	Protected []string
}

func (l *TrunkBranchLaw) ID() int      { return 1 }
func (l *TrunkBranchLaw) Name() string { return "trunk_branch" }

func (l *TrunkBranchLaw) Check(snap *Snapshot) (bool, string) {
	if snap.Branch == "" {
		// Branch unknown (e.g. git unavailable): cannot judge, pass.
		return true, ""
	}
	if IsProtectedBranch(snap.Branch, l.Protected) && snap.DirtyTree {
		return false, fmt.Sprintf("uncommitted work on protected branch %q", snap.Branch)
	}
	return true, ""
}

// CompanionDocsLaw (law 2): required companion documentation must exist and
// must not be stale relative to the newest source change.
type CompanionDocsLaw struct {
	// StalenessWindow is how far docs may lag the newest source change.
	// Default: 24 hours
	StalenessWindow time.Duration
}

func (l *CompanionDocsLaw) ID() int      { return 2 }
func (l *CompanionDocsLaw) Name() string { return "companion_docs" }

func (l *CompanionDocsLaw) Check(snap *Snapshot) (bool, string) {
	window := l.StalenessWindow
	if window <= 0 {
		window = 24 * time.Hour
	}

	missing := make([]string, 0)
	stale := make([]string, 0)
	for _, doc := range snap.Docs {
		if !doc.Exists {
			missing = append(missing, doc.Path)
			continue
		}
		if !snap.NewestSourceMod.IsZero() && snap.NewestSourceMod.Sub(doc.ModTime) > window {
			stale = append(stale, doc.Path)
		}
	}

	switch {
	case len(missing) > 0 && len(stale) > 0:
		return false, fmt.Sprintf("missing docs %v; stale docs %v", missing, stale)
	case len(missing) > 0:
		return false, fmt.Sprintf("missing companion docs: %v", missing)
	case len(stale) > 0:
		return false, fmt.Sprintf("companion docs stale relative to source changes: %v", stale)
	}
	return true, ""
}

// TestPairingLaw (law 3): implementation files must have test counterparts.
// The snapshotter does the file-system walk; the law only judges the result.
type TestPairingLaw struct {
	// MaxUnpaired tolerates a few unpaired files before failing.
	// Default: 0 (strict)
	MaxUnpaired int
}

func (l *TestPairingLaw) ID() int      { return 3 }
func (l *TestPairingLaw) Name() string { return "test_pairing" }

func (l *TestPairingLaw) Check(snap *Snapshot) (bool, string) {
	if snap.ModulePath == "" {
		// Not a Go module; pairing convention does not apply.
		return true, ""
	}
	if len(snap.UnpairedSources) <= l.MaxUnpaired {
		return true, ""
	}
	preview := snap.UnpairedSources
	if len(preview) > 5 {
		preview = preview[:5]
	}
	return false, fmt.Sprintf("%d implementation files without tests (e.g. %v)", len(snap.UnpairedSources), preview)
}

// DefaultLaws returns the standard rule set.
func DefaultLaws() []Law {
	return []Law{
		&TrunkBranchLaw{},
		&CompanionDocsLaw{},
		&TestPairingLaw{},
	}
}
