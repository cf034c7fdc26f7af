package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/runner"
)

// Result is the outcome of one Resolve call. On failure ResolvedTier is
// empty, ErrorMessage is set, and all transient merge state has been
// aborted: the working copy is clean regardless of Success.
type Result struct {
	Entry         *Entry
	Success       bool
	Tier          Tier
	ConflictFiles []string
	ErrorMessage  string
}

// aiTimeout bounds each assistant invocation during tiers 3 and 4.
const aiTimeout = 5 * time.Minute

// defaultResolvePrompt is the tier-3 template. Placeholders: %[1]s
// canonical branch, %[2]s agent branch, %[3]s file path, %[4]s content.
const defaultResolvePrompt = `You are resolving a merge conflict between branch %[1]s (canonical) and
branch %[2]s (an agent's work) in file %[3]s. Below is the file's current
working-copy content, which may contain conflict markers or reflect a
delete/modify conflict. Output ONLY the final resolved file content, no
explanation, no code fences.

%[4]s`

// defaultReimaginePrompt is the tier-4 template. Placeholders: %[1]s
// canonical branch, %[2]s agent branch, %[3]s file path, %[4]s canonical
// content, %[5]s branch content.
const defaultReimaginePrompt = `Branch %[2]s changed file %[3]s, but it no longer merges onto branch
%[1]s. Reimplement the intent of the branch version on top of the
canonical version. Output ONLY the final file content, no explanation,
no code fences.

--- canonical (%[1]s) version ---
%[4]s
--- branch (%[2]s) version ---
%[5]s`

// Resolver turns diverging agent branches into canonical history. One
// resolver instance works against one canonical branch; Resolve runs
// strictly one merge at a time under the canonical-merge lock.
type Resolver struct {
	repoRoot  string
	canonical string
	cfg       config.MergeConfig
	aiArgv    []string
	git       *git.Git
	run       runner.Runner
	lock      *flock.Flock
}

// NewResolver builds a resolver for a repository root.
func NewResolver(repoRoot, canonical string, cfg config.MergeConfig, aiArgv []string, r runner.Runner) *Resolver {
	return &Resolver{
		repoRoot:  repoRoot,
		canonical: canonical,
		cfg:       cfg,
		aiArgv:    aiArgv,
		git:       git.NewWithRunner(repoRoot, r),
		run:       r,
		lock:      flock.New(filepath.Join(repoRoot, constants.StateDir, "locks", "canonical-merge.lock")),
	}
}

// Resolve walks the escalation ladder for one entry:
//
//	tier 1  clean merge
//	tier 2  auto-resolve (keep incoming side of marked conflicts)
//	tier 3  ai-resolve (gated on config)
//	tier 4  reimagine (gated on config)
//
// Whatever happens, the working copy is clean when Resolve returns.
func (r *Resolver) Resolve(entry *Entry) *Result {
	if err := os.MkdirAll(filepath.Dir(r.lock.Path()), 0755); err != nil {
		return r.fail(entry, nil, fmt.Sprintf("creating lock dir: %v", err))
	}
	if err := r.lock.Lock(); err != nil {
		return r.fail(entry, nil, fmt.Sprintf("acquiring canonical-merge lock: %v", err))
	}
	defer func() { _ = r.lock.Unlock() }()

	if err := r.git.Checkout(r.canonical); err != nil {
		return r.fail(entry, nil, fmt.Sprintf("checking out %s: %v", r.canonical, err))
	}

	// Tier 1: clean merge.
	err := r.git.Merge(entry.BranchName)
	if err == nil {
		return r.done(entry, TierCleanMerge, nil)
	}
	if !git.IsConflict(err) {
		r.cleanup()
		return r.fail(entry, nil, fmt.Sprintf("merging %s: %v", entry.BranchName, err))
	}

	conflicted, listErr := r.git.ConflictedFiles()
	if listErr != nil {
		r.cleanup()
		return r.fail(entry, nil, fmt.Sprintf("listing conflicts: %v", listErr))
	}

	// Tier 2: strip markers, keep the incoming (agent-branch) side.
	residual, tierErr := r.autoResolve(conflicted)
	if tierErr != nil {
		r.cleanup()
		return r.fail(entry, conflicted, fmt.Sprintf("auto-resolve: %v", tierErr))
	}
	if len(residual) == 0 {
		if err := r.concludeMerge(); err != nil {
			r.cleanup()
			return r.fail(entry, conflicted, fmt.Sprintf("committing auto-resolve: %v", err))
		}
		return r.done(entry, TierAutoResolve, conflicted)
	}

	// Tier 3: AI resolution of the residual paths.
	if r.cfg.AIResolveEnabled {
		if err := r.aiResolve(entry, residual); err == nil {
			if err := r.concludeMerge(); err == nil {
				return r.done(entry, TierAIResolve, conflicted)
			}
		}
		// Within a tier, a fault escalates; only the last tier's error
		// message is retained.
	}

	// Tier 4: abort the merge and reimagine the change onto canonical.
	if !r.cfg.ReimagineEnabled {
		r.cleanup()
		return r.fail(entry, conflicted, fmt.Sprintf("unresolved conflicts in %s and escalation tiers disabled", strings.Join(residual, ", ")))
	}

	if err := r.reimagine(entry); err != nil {
		r.cleanup()
		return r.fail(entry, conflicted, fmt.Sprintf("reimagine: %v", err))
	}
	return r.done(entry, TierReimagine, conflicted)
}

// autoResolve rewrites conflicted files keeping the incoming side.
// Files without conflict markers (delete/modify and friends) are left
// alone and returned as residual.
func (r *Resolver) autoResolve(conflicted []string) (residual []string, err error) {
	for _, path := range conflicted {
		full := filepath.Join(r.repoRoot, path)
		data, readErr := os.ReadFile(full) //nolint:gosec // G304: path comes from git's conflict listing
		if readErr != nil {
			if os.IsNotExist(readErr) {
				// Deleted on one side; nothing to strip.
				residual = append(residual, path)
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, readErr)
		}

		resolved, ok := keepIncoming(string(data))
		if !ok {
			residual = append(residual, path)
			continue
		}
		if writeErr := os.WriteFile(full, []byte(resolved), 0644); writeErr != nil { //nolint:gosec // G306
			return nil, fmt.Errorf("writing %s: %w", path, writeErr)
		}
	}
	return residual, nil
}

// keepIncoming strips standard conflict markers from content, keeping
// the incoming (agent-branch) side of each hunk. Returns ok=false when
// the content has no markers to strip.
func keepIncoming(content string) (string, bool) {
	if !strings.Contains(content, "<<<<<<<") {
		return "", false
	}

	var out []string
	// 0 = outside hunk, 1 = ours (HEAD) side, 2 = theirs (incoming) side
	state := 0
	sawMarker := false

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "<<<<<<<"):
			state = 1
			sawMarker = true
		case strings.HasPrefix(line, "=======") && state == 1:
			state = 2
		case strings.HasPrefix(line, ">>>>>>>") && state != 0:
			state = 0
		default:
			if state == 0 || state == 2 {
				out = append(out, line)
			}
		}
	}
	if !sawMarker {
		return "", false
	}
	return strings.Join(out, "\n"), true
}

// aiResolve sends each residual file's working-copy content to the
// assistant CLI; its stdout replaces the file.
func (r *Resolver) aiResolve(entry *Entry, residual []string) error {
	prompt := r.cfg.ResolvePrompt
	if prompt == "" {
		prompt = defaultResolvePrompt
	}

	for _, path := range residual {
		full := filepath.Join(r.repoRoot, path)
		data, err := os.ReadFile(full) //nolint:gosec // G304
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		input := fmt.Sprintf(prompt, r.canonical, entry.BranchName, path, string(data))
		output, err := r.askAssistant(input)
		if err != nil {
			return fmt.Errorf("assistant on %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(output), 0644); err != nil { //nolint:gosec // G306
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// reimagine aborts the in-progress merge and asks the assistant to
// reimplement the branch's change onto the canonical version of every
// file the entry touched.
func (r *Resolver) reimagine(entry *Entry) error {
	if err := r.git.AbortMerge(); err != nil {
		return fmt.Errorf("aborting merge: %w", err)
	}

	prompt := r.cfg.ReimaginePrompt
	if prompt == "" {
		prompt = defaultReimaginePrompt
	}

	for _, path := range entry.FilesModified {
		canonical, err := r.git.Show(r.canonical, path)
		if err != nil {
			// New file on the branch: canonical side is empty.
			canonical = ""
		}
		branch, err := r.git.Show(entry.BranchName, path)
		if err != nil {
			return fmt.Errorf("reading %s from %s: %w", path, entry.BranchName, err)
		}

		input := fmt.Sprintf(prompt, r.canonical, entry.BranchName, path, canonical, branch)
		output, err := r.askAssistant(input)
		if err != nil {
			return fmt.Errorf("assistant on %s: %w", path, err)
		}

		full := filepath.Join(r.repoRoot, path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("creating dir for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(output), 0644); err != nil { //nolint:gosec // G306
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	if err := r.git.AddAll(); err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	msg := fmt.Sprintf("Reimagine %s onto %s", entry.BranchName, r.canonical)
	if err := r.git.Commit(msg); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// askAssistant runs the one-shot assistant CLI with the prompt on stdin
// and returns its stdout. Non-zero exit fails the tier.
func (r *Resolver) askAssistant(prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), aiTimeout)
	defer cancel()

	res, err := r.run.RunContext(ctx, r.repoRoot, prompt, r.aiArgv...)
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", fmt.Errorf("exit %d: %s", res.ExitCode, runner.TrimStderr(res.Stderr))
	}
	return res.Stdout, nil
}

// concludeMerge stages everything and commits with the tool's default
// merge message.
func (r *Resolver) concludeMerge() error {
	if err := r.git.AddAll(); err != nil {
		return err
	}
	return r.git.CommitNoEdit()
}

// cleanup aborts any in-progress merge and discards leftover working-copy
// changes so the canonical checkout is clean for the next entry.
func (r *Resolver) cleanup() {
	_ = r.git.AbortMerge()
	if clean, err := r.git.IsClean(); err == nil && !clean {
		_ = r.git.ResetHard()
	}
}

// done finalizes a successful resolution.
func (r *Resolver) done(entry *Entry, tier Tier, conflicts []string) *Result {
	entry.Status = StatusMerged
	entry.ResolvedTier = tier
	return &Result{
		Entry:         entry,
		Success:       true,
		Tier:          tier,
		ConflictFiles: conflicts,
	}
}

// fail finalizes a terminal failure. ResolvedTier stays empty.
func (r *Resolver) fail(entry *Entry, conflicts []string, msg string) *Result {
	entry.Status = StatusFailed
	entry.ResolvedTier = ""
	return &Result{
		Entry:         entry,
		Success:       false,
		ConflictFiles: conflicts,
		ErrorMessage:  msg,
	}
}
