package ironlaw

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/modfile"

	"github.com/chainwatch/chainwatch/internal/gitops"
)

// SnapshotProvider collects the external state a compliance poll judges.
type SnapshotProvider interface {
	Collect(ctx context.Context) (*Snapshot, error)
}

// Snapshotter gathers repository state: branch, working-tree cleanliness,
// companion doc freshness, and implementation/test file pairing.
type Snapshotter struct {
	repoRoot   string
	git        *gitops.Git
	docPaths   []string
	sourceGlob string
	skipGlobs  []string
	now        func() time.Time
}

// SnapshotterConfig configures a Snapshotter.
type SnapshotterConfig struct {
	// RepoRoot is the repository under supervision
	RepoRoot string
	// Git is optional; without it branch/dirty state stay unknown
	Git *gitops.Git
	// DocPaths are companion docs required to exist and stay fresh.
	// Default: PLAN.md, NOTES.md
	DocPaths []string
	// SourceGlob selects implementation files for the pairing check.
	// Default: "internal/**/*.go"
	SourceGlob string
	// SkipGlobs excludes paths from the pairing check.
	// Default: vendor and generated code
	SkipGlobs []string
	// Now is the clock; tests inject a fixed one. Default: time.Now
	Now func() time.Time
}

// NewSnapshotter creates a snapshotter rooted at cfg.RepoRoot.
func NewSnapshotter(cfg SnapshotterConfig) (*Snapshotter, error) {
	if cfg.RepoRoot == "" {
		return nil, fmt.Errorf("repo root is required")
	}
	if len(cfg.DocPaths) == 0 {
		cfg.DocPaths = []string{"PLAN.md", "NOTES.md"}
	}
	if cfg.SourceGlob == "" {
		cfg.SourceGlob = "internal/**/*.go"
	}
	if len(cfg.SkipGlobs) == 0 {
		cfg.SkipGlobs = []string{"vendor/**", "**/*_gen.go", "**/zz_generated*.go"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Snapshotter{
		repoRoot:   cfg.RepoRoot,
		git:        cfg.Git,
		docPaths:   cfg.DocPaths,
		sourceGlob: cfg.SourceGlob,
		skipGlobs:  cfg.SkipGlobs,
		now:        cfg.Now,
	}, nil
}

// Collect gathers one snapshot. Individual probe failures degrade to
// unknown values rather than failing the whole poll: a missing answer means
// the affected law passes by default this tick.
func (s *Snapshotter) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: s.now()}

	if s.git != nil {
		if branch, err := s.git.CurrentBranch(ctx, s.repoRoot); err == nil {
			snap.Branch = branch
		} else {
			fmt.Printf("IronLaw: branch probe failed: %v\n", err)
		}
		if dirty, err := s.git.HasUncommittedChanges(ctx, s.repoRoot); err == nil {
			snap.DirtyTree = dirty
		}
	}

	snap.ModulePath = s.modulePath()

	for _, docPath := range s.docPaths {
		ds := DocState{Path: docPath}
		if info, err := os.Stat(filepath.Join(s.repoRoot, docPath)); err == nil {
			ds.Exists = true
			ds.ModTime = info.ModTime()
		}
		snap.Docs = append(snap.Docs, ds)
	}

	if err := s.scanSources(snap); err != nil {
		fmt.Printf("IronLaw: source scan failed: %v\n", err)
	}

	return snap, nil
}

// modulePath reads the module path from go.mod, "" when absent or invalid.
func (s *Snapshotter) modulePath() string {
	data, err := os.ReadFile(filepath.Join(s.repoRoot, "go.mod"))
	if err != nil {
		return ""
	}
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil || f.Module == nil {
		return ""
	}
	return f.Module.Mod.Path
}

// scanSources walks implementation files, recording the newest modification
// time and any file lacking a _test.go counterpart in its directory.
func (s *Snapshotter) scanSources(snap *Snapshot) error {
	fsys := os.DirFS(s.repoRoot)
	matches, err := doublestar.Glob(fsys, s.sourceGlob)
	if err != nil {
		return fmt.Errorf("globbing %s: %w", s.sourceGlob, err)
	}

	testFiles := make(map[string]bool)
	sources := make([]string, 0, len(matches))
	for _, match := range matches {
		if s.skipped(match) {
			continue
		}
		if strings.HasSuffix(match, "_test.go") {
			testFiles[match] = true
			continue
		}
		sources = append(sources, match)
	}

	for _, src := range sources {
		if info, err := os.Stat(filepath.Join(s.repoRoot, src)); err == nil {
			if info.ModTime().After(snap.NewestSourceMod) {
				snap.NewestSourceMod = info.ModTime()
			}
		}
		pair := strings.TrimSuffix(src, ".go") + "_test.go"
		if !testFiles[pair] && !dirHasTests(src, testFiles) {
			snap.UnpairedSources = append(snap.UnpairedSources, src)
		}
	}
	return nil
}

func (s *Snapshotter) skipped(path string) bool {
	for _, glob := range s.skipGlobs {
		if ok, err := doublestar.Match(glob, path); err == nil && ok {
			return true
		}
	}
	// doc.go and generated stubs are declarations, not implementation.
	return filepath.Base(path) == "doc.go"
}

// dirHasTests accepts package-level pairing: a file counts as paired when
// any test file lives in its directory.
func dirHasTests(src string, testFiles map[string]bool) bool {
	dir := filepath.Dir(src)
	for tf := range testFiles {
		if filepath.Dir(tf) == dir {
			return true
		}
	}
	return false
}
