// Package merge implements three-way merge with conflict detection and
// automated resolution, parsing conflict hunks and applying resolution
// strategies with Go's regexp package.
package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Strategy is the closed enum of auto-resolution strategies.
type Strategy string

const (
	StrategyOurs     Strategy = "ours"
	StrategyTheirs   Strategy = "theirs"
	StrategyCombined Strategy = "combined"
)

// DefaultStrategy is "theirs" for agent branches: the agent's change is
// the intent.
const DefaultStrategy = StrategyTheirs

var ErrMergeConflict = errors.New("merge conflict")

// Conflict describes one conflicted file's parsed hunk.
type Conflict struct {
	Path  string
	Ours  string
	Theirs string
}

// Result is the outcome of a merge attempt.
type Result struct {
	Success          bool
	ConflictsFound   int
	Resolved         int
	RemainingConflicts []string
}

// Resolver performs merges against a working repository at repoPath.
type Resolver struct {
	repoPath string
}

func New(repoPath string) *Resolver {
	return &Resolver{repoPath: repoPath}
}

func (r *Resolver) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.repoPath
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// conflictPattern matches a single conflict hunk: <<<<<<< ours-label \n
// ours \n ======= \n theirs \n >>>>>>> theirs-label. (?s) makes "." match
// newlines so a hunk's body can span multiple lines.
var conflictPattern = regexp.MustCompile(`(?s)<<<<<<<[^\n]*\n(.*?)=======\n(.*?)>>>>>>>[^\n]*\n?`)

// MergeBranch merges source into target with --no-ff. On a clean merge it
// returns a successful Result. On conflicts it detects and returns the
// conflicted file list without attempting resolution (callers call
// AutoResolve per file).
func (r *Resolver) MergeBranch(ctx context.Context, source, target string) (*Result, error) {
	if target == "" {
		target = "main"
	}
	if _, stderr, err := r.run(ctx, "checkout", target); err != nil {
		return nil, errors.Wrapf(err, "checkout target %q: %s", target, stderr)
	}

	_, stderr, mergeErr := r.run(ctx, "merge", source, "--no-ff", "--no-edit")
	if mergeErr == nil {
		return &Result{Success: true}, nil
	}

	conflicted, detErr := r.detectConflicts(ctx)
	if detErr != nil {
		return nil, errors.Wrapf(mergeErr, "merge failed and conflict detection failed: %v (%s)", detErr, stderr)
	}
	if len(conflicted) == 0 {
		return nil, errors.Wrapf(mergeErr, "merge failed with no detected conflicts: %s", stderr)
	}
	return &Result{Success: false, ConflictsFound: len(conflicted), RemainingConflicts: conflicted}, nil
}

func (r *Resolver) detectConflicts(ctx context.Context) ([]string, error) {
	stdout, stderr, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.Wrapf(ErrMergeConflict, "%s", stderr)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// parseConflict extracts the ours/theirs hunks for a single-conflict file.
// Only the first conflict marker pair is resolved per call, matching the
// original's single-hunk regex; callers invoke repeatedly while markers
// remain for multi-hunk files.
func parseConflict(content string) (ours, theirs string, ok bool) {
	m := conflictPattern.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// AutoResolve rewrites path applying strategy to every conflict hunk found,
// stages the file, and reports whether any hunk was resolved. Running it
// twice on an already-resolved file is a no-op returning resolved=false:
// the second call finds no conflict markers and leaves the bytes untouched.
func (r *Resolver) AutoResolve(ctx context.Context, path string, strategy Strategy) (resolved bool, err error) {
	fullPath := filepath.Join(r.repoPath, path)
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return false, errors.Wrap(err, "read conflicted file")
	}
	content := string(raw)

	any := false
	for {
		ours, theirs, ok := parseConflict(content)
		if !ok {
			break
		}
		var replacement string
		switch strategy {
		case StrategyOurs:
			replacement = ours
		case StrategyTheirs:
			replacement = theirs
		case StrategyCombined:
			replacement = ours + theirs
		default:
			replacement = theirs
		}
		loc := conflictPattern.FindStringIndex(content)
		content = content[:loc[0]] + replacement + content[loc[1]:]
		any = true
	}
	if !any {
		return false, nil
	}

	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return false, errors.Wrap(err, "write resolved file")
	}
	if _, stderr, err := r.run(ctx, "add", path); err != nil {
		return false, errors.Wrapf(err, "git add %q: %s", path, stderr)
	}
	return true, nil
}

// AbortMerge restores the pre-merge state.
func (r *Resolver) AbortMerge(ctx context.Context) error {
	if _, stderr, err := r.run(ctx, "merge", "--abort"); err != nil {
		return errors.Wrapf(err, "merge --abort: %s", stderr)
	}
	return nil
}
