package convstore

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T, composers []Composer) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.vscdb")

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	blob := struct {
		AllComposers []Composer `json:"allComposers"`
	}{AllComposers: composers}
	data, err := json.Marshal(blob)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ItemTable (key, value) VALUES (?, ?)`, DefaultStateKey, string(data)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return path
}

func TestGetAllIDs(t *testing.T) {
	path := newTestDB(t, []Composer{{ID: "a"}, {ID: "b"}})
	s := New(path)

	ids, err := s.GetAllIDs()
	if err != nil {
		t.Fatalf("GetAllIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("got %v, want [a b]", ids)
	}
}

func TestGetNameReturnsEmptyForBlank(t *testing.T) {
	path := newTestDB(t, []Composer{{ID: "a", Name: "  "}, {ID: "b", Name: "hello"}})
	s := New(path)

	name, err := s.GetName("a")
	if err != nil {
		t.Fatalf("GetName: %v", err)
	}
	if name != "" {
		t.Fatalf("got %q, want empty name for whitespace-only", name)
	}

	name, err = s.GetName("b")
	if err != nil {
		t.Fatalf("GetName: %v", err)
	}
	if name != "hello" {
		t.Fatalf("got %q, want 'hello'", name)
	}
}

func TestGetNameUnknownIDReturnsEmpty(t *testing.T) {
	path := newTestDB(t, []Composer{{ID: "a", Name: "hello"}})
	s := New(path)

	name, err := s.GetName("missing")
	if err != nil {
		t.Fatalf("GetName: %v", err)
	}
	if name != "" {
		t.Fatalf("got %q, want empty for unknown id", name)
	}
}

func TestGetAllNamesExcludesEmpty(t *testing.T) {
	path := newTestDB(t, []Composer{
		{ID: "a", Name: "hello"},
		{ID: "b", Name: ""},
		{ID: "c", Name: "world"},
	})
	s := New(path)

	names, err := s.GetAllNames()
	if err != nil {
		t.Fatalf("GetAllNames: %v", err)
	}
	if len(names) != 2 || names["a"] != "hello" || names["c"] != "world" {
		t.Fatalf("got %v, want a=hello c=world only", names)
	}
}

func TestGetArchivedIDs(t *testing.T) {
	path := newTestDB(t, []Composer{
		{ID: "a", IsArchived: true},
		{ID: "b", IsArchived: false},
	})
	s := New(path)

	archived, err := s.GetArchivedIDs()
	if err != nil {
		t.Fatalf("GetArchivedIDs: %v", err)
	}
	if !archived["a"] || archived["b"] {
		t.Fatalf("got %v, want only a archived", archived)
	}
}

func TestGetActiveRankedByRecencyOrdersDescendingAndExcludesArchived(t *testing.T) {
	path := newTestDB(t, []Composer{
		{ID: "old", LastUpdatedAt: 100},
		{ID: "new", LastUpdatedAt: 300},
		{ID: "archived", LastUpdatedAt: 500, IsArchived: true},
		{ID: "mid", LastUpdatedAt: 200},
	})
	s := New(path)

	ranked, err := s.GetActiveRankedByRecency()
	if err != nil {
		t.Fatalf("GetActiveRankedByRecency: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("got %d entries, want 3 (archived excluded)", len(ranked))
	}
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if ranked[i].ID != id || ranked[i].Position != i {
			t.Fatalf("position %d: got %+v, want id=%s", i, ranked[i], id)
		}
	}
}

func TestGetActiveRankedByRecencySortsNullsLast(t *testing.T) {
	path := newTestDB(t, []Composer{
		{ID: "has-ts", LastUpdatedAt: 100},
		{ID: "no-ts", LastUpdatedAt: 0},
	})
	s := New(path)

	ranked, err := s.GetActiveRankedByRecency()
	if err != nil {
		t.Fatalf("GetActiveRankedByRecency: %v", err)
	}
	if ranked[0].ID != "has-ts" || ranked[1].ID != "no-ts" {
		t.Fatalf("got %+v, want has-ts before no-ts", ranked)
	}
}

func TestLocateStateDBMatchesWorkspaceFolder(t *testing.T) {
	base := t.TempDir()
	workspace := t.TempDir()

	entryDir := filepath.Join(base, "abc123")
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	wsJSON := `{"folder":"file://` + absWorkspace + `"}`
	if err := os.WriteFile(filepath.Join(entryDir, "workspace.json"), []byte(wsJSON), 0o644); err != nil {
		t.Fatalf("write workspace.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(entryDir, "state.vscdb"), []byte{}, 0o644); err != nil {
		t.Fatalf("write state.vscdb: %v", err)
	}

	got, err := LocateStateDB(base, workspace)
	if err != nil {
		t.Fatalf("LocateStateDB: %v", err)
	}
	want := filepath.Join(entryDir, "state.vscdb")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLocateStateDBNoMatch(t *testing.T) {
	base := t.TempDir()
	if _, err := LocateStateDB(base, t.TempDir()); err == nil {
		t.Fatal("expected an error when no workspace-storage entry matches")
	}
}

func TestPlatformBaseDir(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"darwin", filepath.Join("/home/u", "Library", "Application Support", "Cursor", "User", "workspaceStorage")},
		{"windows", filepath.Join("C:\\AppData", "Cursor", "User", "workspaceStorage")},
		{"linux", filepath.Join("/home/u", ".config", "Cursor", "User", "workspaceStorage")},
	}
	for _, tc := range tests {
		got := PlatformBaseDir(tc.goos, "/home/u", "C:\\AppData")
		if got != tc.want {
			t.Errorf("PlatformBaseDir(%s) = %q, want %q", tc.goos, got, tc.want)
		}
	}
}
