// Package ledger persists per-asset progress of a run so later runs can resume or retry.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/spachava753/geosync/internal/models"
)

const (
	RasterFileName = ".geosync-state.json"
	TableFileName  = ".geosync-table-state.json"
)

// PathFor returns the ledger location inside a source directory for the given mode.
func PathFor(sourceDir string, mode models.Mode) string {
	if mode == models.ModeTable {
		return filepath.Join(sourceDir, TableFileName)
	}
	return filepath.Join(sourceDir, RasterFileName)
}

// Ledger is the in-memory view of a ledger file. Every transition rewrites the file.
type Ledger struct {
	mu   sync.Mutex
	path string
	file models.LedgerFile
}

// New creates an empty ledger bound to path. Nothing is written until the first transition.
func New(path, destination string) *Ledger {
	return &Ledger{
		path: path,
		file: models.LedgerFile{
			Assets:         make(map[string]models.AssetState),
			FailedReasons:  make(map[string]string),
			Timestamp:      time.Now().UTC(),
			CollectionPath: destination,
		},
	}
}

// Load reads the ledger at path. A missing file yields an empty ledger.
func Load(path string) (*Ledger, error) {
	l := New(path, "")

	var file models.LedgerFile
	if err := readJSON(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}

	for name, state := range file.Assets {
		if !models.IsKnownState(state) {
			return nil, fmt.Errorf("ledger %s: asset %q has unknown state %q", path, name, state)
		}
	}

	if file.Assets == nil {
		file.Assets = make(map[string]models.AssetState)
	}
	if file.FailedReasons == nil {
		file.FailedReasons = make(map[string]string)
	}
	l.file = file
	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Destination() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.CollectionPath
}

func (l *Ledger) SetDestination(dest string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.CollectionPath = dest
}

// State returns the recorded state of name, if any.
func (l *Ledger) State(name string) (models.AssetState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.file.Assets[name]
	return s, ok
}

// Reason returns the last failure reason recorded for name.
func (l *Ledger) Reason(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.FailedReasons[name]
}

// Snapshot returns a deep copy of the ledger contents.
func (l *Ledger) Snapshot() models.LedgerFile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.LedgerFile{
		Assets:         maps.Clone(l.file.Assets),
		FailedReasons:  maps.Clone(l.file.FailedReasons),
		Timestamp:      l.file.Timestamp,
		CollectionPath: l.file.CollectionPath,
	}
}

// Names returns every asset name currently in the given state.
func (l *Ledger) Names(state models.AssetState) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var names []string
	for name, s := range l.file.Assets {
		if s == state {
			names = append(names, name)
		}
	}
	return names
}

// Transition moves name to state and persists the whole ledger before returning.
// The reason is kept only for failed assets.
func (l *Ledger) Transition(name string, to models.AssetState, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.file.Assets[name]
	if !models.CanTransition(from, to) {
		return fmt.Errorf("invalid asset state transition: %q -> %q (asset=%s)", from, to, name)
	}

	l.file.Assets[name] = to
	if to == models.StateFailed {
		l.file.FailedReasons[name] = reason
	} else {
		delete(l.file.FailedReasons, name)
	}

	return l.saveLocked()
}

// Save persists the ledger as-is.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	if err := writeJSON(l.path, l.file); err != nil {
		return fmt.Errorf("saving ledger: %w", err)
	}
	return nil
}
