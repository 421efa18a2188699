// Package convstore is a read-only adapter over the IDE's workspace-storage
// SQLite database, enumerating agent conversations for the bridge daemon.
//
// Grounded on the teacher's internal/schema.OpenDB (modernc.org/sqlite,
// pure-Go driver, WAL journal mode) adapted to a read-only, single-database
// reader: this package never writes to the IDE's database.
package convstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Composer mirrors one entry of the IDE's allComposers JSON array.
type Composer struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CreatedAt      int64  `json:"createdAt"`
	LastUpdatedAt  int64  `json:"lastUpdatedAt"`
	UnifiedMode    string `json:"unifiedMode,omitempty"`
	IsArchived     bool   `json:"isArchived"`
	IsDraft        bool   `json:"isDraft"`
}

// RankedConversation is one entry of getActiveRankedByRecency's result.
type RankedConversation struct {
	ID            string
	LastUpdatedAt int64 // ms since epoch; 0 means "null" (sorts last)
	Position      int
}

// Store is a read-only reader over the IDE's workspace-storage database.
type Store struct {
	dbPath    string
	stateKey  string
}

// DefaultStateKey is the single key holding the composer-data JSON blob.
const DefaultStateKey = "composer.composerData"

// New creates a Store bound to an already-located state.vscdb file.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath, stateKey: DefaultStateKey}
}

// LocateStateDB scans the platform-specific workspace-storage base directory
// for the subfolder whose workspace.json names workspaceRoot, and returns
// the path to its state.vscdb. Returns an error if no match is found.
func LocateStateDB(baseDir, workspaceRoot string) (string, error) {
	absWorkspace, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	targetURI := "file://" + absWorkspace

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", fmt.Errorf("read workspace storage base dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		wsJSONPath := filepath.Join(baseDir, entry.Name(), "workspace.json")
		data, err := os.ReadFile(wsJSONPath) //nolint:gosec // G304 - scanning a known IDE storage directory
		if err != nil {
			continue
		}
		var wsJSON struct {
			Folder string `json:"folder"`
		}
		if err := json.Unmarshal(data, &wsJSON); err != nil {
			continue
		}
		if strings.TrimSuffix(wsJSON.Folder, "/") == strings.TrimSuffix(targetURI, "/") {
			return filepath.Join(baseDir, entry.Name(), "state.vscdb"), nil
		}
	}

	return "", fmt.Errorf("no workspace-storage entry matches %s", absWorkspace)
}

// PlatformBaseDir returns the platform-specific base directory that holds
// per-workspace storage subfolders, following spec.md §6.
func PlatformBaseDir(goos string, home string, appData string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User", "workspaceStorage")
	case "windows":
		return filepath.Join(appData, "Cursor", "User", "workspaceStorage")
	default:
		return filepath.Join(home, ".config", "Cursor", "User", "workspaceStorage")
	}
}

// open opens the state.vscdb read-only; "mode=ro" ensures this daemon never
// writes to a file the IDE owns (spec.md §5 "SQLite file is read-only from
// this daemon's side").
func (s *Store) open() (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(1000)", s.dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return db, nil
}

// readComposers loads and parses the composer-data blob. A "database is
// locked" class error is reported distinctly so callers can treat it as
// "no data this tick" per spec.md §4.2.
func (s *Store) readComposers() ([]Composer, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var value string
	err = db.QueryRow(`SELECT value FROM ItemTable WHERE key = ?`, s.stateKey).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "locked") || strings.Contains(strings.ToLower(err.Error()), "busy") {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("query composer data: %w", err)
	}

	var blob struct {
		AllComposers []Composer `json:"allComposers"`
	}
	if err := json.Unmarshal([]byte(value), &blob); err != nil {
		return nil, fmt.Errorf("parse composer data: %w", err)
	}
	return blob.AllComposers, nil
}

// ErrLocked is returned when the IDE's SQLite file is transiently busy.
var ErrLocked = fmt.Errorf("database is locked")

// GetAllIDs returns all conversation ids, archived or not.
func (s *Store) GetAllIDs() ([]string, error) {
	composers, err := s.readComposers()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(composers))
	for _, c := range composers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// GetName returns the conversation's display name, or "" if empty/whitespace.
func (s *Store) GetName(id string) (string, error) {
	composers, err := s.readComposers()
	if err != nil {
		return "", err
	}
	for _, c := range composers {
		if c.ID == id {
			if strings.TrimSpace(c.Name) == "" {
				return "", nil
			}
			return c.Name, nil
		}
	}
	return "", nil
}

// GetAllNames returns id->name for every conversation with a non-empty name.
func (s *Store) GetAllNames() (map[string]string, error) {
	composers, err := s.readComposers()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, c := range composers {
		if strings.TrimSpace(c.Name) != "" {
			names[c.ID] = c.Name
		}
	}
	return names, nil
}

// GetArchivedIDs returns the set of conversation ids the IDE has archived.
func (s *Store) GetArchivedIDs() (map[string]bool, error) {
	composers, err := s.readComposers()
	if err != nil {
		return nil, err
	}
	archived := make(map[string]bool)
	for _, c := range composers {
		if c.IsArchived {
			archived[c.ID] = true
		}
	}
	return archived, nil
}

// GetActiveRankedByRecency returns non-archived conversations ordered by
// descending lastUpdatedAt, with nulls (zero timestamp) sorted last, each
// tagged with its 0-based rank position (spec.md §4.3 step 7 / §8 I5).
func (s *Store) GetActiveRankedByRecency() ([]RankedConversation, error) {
	composers, err := s.readComposers()
	if err != nil {
		return nil, err
	}

	active := make([]Composer, 0, len(composers))
	for _, c := range composers {
		if !c.IsArchived {
			active = append(active, c)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		ti, tj := active[i].LastUpdatedAt, active[j].LastUpdatedAt
		if ti == 0 && tj == 0 {
			return false
		}
		if ti == 0 {
			return false
		}
		if tj == 0 {
			return true
		}
		return ti > tj
	})

	out := make([]RankedConversation, len(active))
	for i, c := range active {
		out[i] = RankedConversation{ID: c.ID, LastUpdatedAt: c.LastUpdatedAt, Position: i}
	}
	return out, nil
}

// logLockedRetry is a small helper so callers share one log line shape.
func logLockedRetry(op string) {
	log.Warn().Str("op", op).Msg("conversation store locked, retrying next tick")
}
