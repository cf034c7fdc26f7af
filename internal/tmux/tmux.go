// Package tmux wraps terminal multiplexer session operations via subprocess.
package tmux

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/runner"
)

// Common errors.
var (
	ErrNoServer           = errors.New("no tmux server running")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidSessionName = errors.New("invalid session name")
)

// validSessionNameRe rejects names that make tmux fail silently or
// produce cryptic target-parsing errors (dots, colons, spaces).
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Session is one row of the session listing.
type Session struct {
	Name string
	PID  int // pid of the session leader process
}

// Tmux wraps tmux operations.
type Tmux struct {
	run runner.Runner
}

// New creates a Tmux wrapper using the default subprocess runner.
func New() *Tmux {
	return NewWithRunner(runner.New())
}

// NewWithRunner creates a Tmux wrapper with an injected runner.
func NewWithRunner(r runner.Runner) *Tmux {
	return &Tmux{run: r}
}

// tmux executes a tmux command and returns trimmed stdout.
func (t *Tmux) tmux(args ...string) (string, error) {
	argv := append([]string{"tmux"}, args...)
	res, err := t.run.Run("", "", argv...)
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	if !res.Ok() {
		return "", t.classify(res.Stderr, args)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// classify maps tmux stderr to sentinel errors.
func (t *Tmux) classify(stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case strings.Contains(stderr, "no server running"),
		strings.Contains(stderr, "error connecting to"),
		strings.Contains(stderr, "server exited unexpectedly"):
		return ErrNoServer
	case strings.Contains(stderr, "duplicate session"):
		return ErrSessionExists
	case strings.Contains(stderr, "session not found"),
		strings.Contains(stderr, "can't find session"):
		return ErrSessionNotFound
	}
	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s failed", args[0])
}

func validateSessionName(name string) error {
	if name == "" || !validSessionNameRe.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidSessionName, name, validSessionNameRe.String())
	}
	return nil
}

// CreateSession starts a detached session by name in cwd running command,
// then queries the listing to recover the session leader's pid. Fails
// with ErrSessionExists if the name is taken.
func (t *Tmux) CreateSession(name, cwd, command string) (int, error) {
	if err := validateSessionName(name); err != nil {
		return 0, err
	}

	args := []string{"new-session", "-d", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	// The command runs directly as the pane's initial process. This
	// avoids the shell-prompt race of new-session + send-keys.
	args = append(args, command)
	if _, err := t.tmux(args...); err != nil {
		return 0, err
	}

	sessions, err := t.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("session created but listing failed: %w", err)
	}
	for _, s := range sessions {
		if s.Name == name {
			return s.PID, nil
		}
	}
	return 0, fmt.Errorf("session %s created but absent from listing", name)
}

// ListSessions returns all sessions with their leader pids. A host with
// no tmux server is not an error: it simply has no sessions.
func (t *Tmux) ListSessions() ([]Session, error) {
	out, err := t.tmux("list-sessions", "-F", "#{session_name}:#{pid}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx <= 0 || idx == len(line)-1 {
			continue // skip unparsable rows
		}
		pid, err := strconv.Atoi(line[idx+1:])
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{Name: line[:idx], PID: pid})
	}
	return sessions, nil
}

// HasSession checks if a session exists (exact match). The "=" prefix
// prevents tmux's default prefix matching, so "overstory-a" does not
// match when checking for "overstory-a-2".
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.tmux("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KillSession terminates a session. Killing an already-gone session (or
// a dead server) is a no-op.
func (t *Tmux) KillSession(name string) error {
	_, err := t.tmux("kill-session", "-t", "="+name)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// SendKeys delivers text to a session followed by Enter. The text goes
// in literal mode so special characters arrive verbatim, and Enter is a
// separate command after a debounce so it can't outrun the paste.
func (t *Tmux) SendKeys(name, text string) error {
	return t.SendKeysDebounced(name, text, constants.DefaultDebounceMs)
}

// SendKeysDebounced is SendKeys with an explicit paste-to-Enter delay.
func (t *Tmux) SendKeysDebounced(name, text string, debounceMs int) error {
	if _, err := t.tmux("send-keys", "-t", "="+name, "-l", text); err != nil {
		return err
	}
	if debounceMs > 0 {
		time.Sleep(time.Duration(debounceMs) * time.Millisecond)
	}
	_, err := t.tmux("send-keys", "-t", "="+name, "Enter")
	return err
}

// CapturePane captures the last n lines of a session's pane. Used by the
// watchdog's triage step to show the assistant its own recent output.
func (t *Tmux) CapturePane(name string, lines int) (string, error) {
	return t.tmux("capture-pane", "-p", "-t", "="+name, "-S", fmt.Sprintf("-%d", lines))
}

// IsAvailable checks whether tmux is installed.
func (t *Tmux) IsAvailable() bool {
	_, err := t.tmux("-V")
	return err == nil
}
