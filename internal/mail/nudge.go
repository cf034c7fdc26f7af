package mail

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cellexec/overstory/internal/constants"
)

// NudgeReason explains why a nudge was queued.
type NudgeReason string

const (
	ReasonUrgent     NudgeReason = "urgent priority"
	ReasonHigh       NudgeReason = "high priority"
	ReasonWorkerDone NudgeReason = "worker_done"
)

// Nudge is the single-slot pending marker per recipient. Only the latest
// qualifying message is remembered; a new send overwrites the slot.
type Nudge struct {
	Recipient string      `json:"recipient"`
	Sender    string      `json:"sender"`
	Subject   string      `json:"subject"`
	MessageID string      `json:"message_id"`
	Reason    NudgeReason `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
}

// NudgeDir is the marker directory under .overstory/.
const NudgeDir = "pending-nudges"

// Nudges is the on-disk registry: one JSON file per recipient, lock-free,
// last-write-wins.
type Nudges struct {
	dir string
}

// NewNudges creates the registry for a project root.
func NewNudges(projectRoot string) *Nudges {
	return &Nudges{dir: filepath.Join(projectRoot, constants.StateDir, NudgeDir)}
}

// NewNudgesAtDir creates the registry at an explicit directory.
func NewNudgesAtDir(dir string) *Nudges {
	return &Nudges{dir: dir}
}

func (n *Nudges) path(recipient string) string {
	return filepath.Join(n.dir, recipient+".json")
}

// Set writes (or overwrites) the marker for a recipient.
func (n *Nudges) Set(nudge *Nudge) error {
	if err := os.MkdirAll(n.dir, 0755); err != nil {
		return fmt.Errorf("creating nudge dir: %w", err)
	}
	data, err := json.Marshal(nudge)
	if err != nil {
		return fmt.Errorf("encoding nudge: %w", err)
	}
	if err := os.WriteFile(n.path(nudge.Recipient), data, 0644); err != nil { //nolint:gosec // G306: markers are non-sensitive
		return fmt.Errorf("writing nudge: %w", err)
	}
	return nil
}

// Get returns the pending marker for a recipient, or nil if none. A
// missing directory means no nudges anywhere.
func (n *Nudges) Get(recipient string) (*Nudge, error) {
	data, err := os.ReadFile(n.path(recipient)) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading nudge: %w", err)
	}
	var nudge Nudge
	if err := json.Unmarshal(data, &nudge); err != nil {
		return nil, fmt.Errorf("parsing nudge: %w", err)
	}
	return &nudge, nil
}

// Clear removes the marker for a recipient. Clearing an absent marker is
// a no-op.
func (n *Nudges) Clear(recipient string) error {
	if err := os.Remove(n.path(recipient)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing nudge: %w", err)
	}
	return nil
}

// injectCursor returns the id of the last message injected for a
// recipient ("" if nothing was ever injected). Cursor files live next to
// the markers with a .cursor extension, so List (which only reads .json)
// never confuses the two.
func (n *Nudges) injectCursor(recipient string) (string, error) {
	data, err := os.ReadFile(filepath.Join(n.dir, recipient+".cursor")) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading inject cursor: %w", err)
	}
	return string(data), nil
}

// setInjectCursor records the id of the newest injected message.
func (n *Nudges) setInjectCursor(recipient, id string) error {
	if err := os.MkdirAll(n.dir, 0755); err != nil {
		return fmt.Errorf("creating nudge dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(n.dir, recipient+".cursor"), []byte(id), 0644); err != nil { //nolint:gosec // G306
		return fmt.Errorf("writing inject cursor: %w", err)
	}
	return nil
}

// List returns all recipients with a pending marker.
func (n *Nudges) List() ([]string, error) {
	entries, err := os.ReadDir(n.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recipients []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		recipients = append(recipients, name[:len(name)-len(".json")])
	}
	return recipients, nil
}
