package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bliqhq/bliq/internal/storage/sqlite"
	"github.com/bliqhq/bliq/internal/types"
)

// setupTestDB opens a fresh database with two users.
func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	db, err := sqlite.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "bliq.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, id := range []string{"u-1", "u-2"} {
		u := &types.User{ID: id, Email: id + "@example.com", Name: id, PasswordHash: "x", CreatedAt: time.Now()}
		if err := db.PutUser(context.Background(), u); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}
	return db
}

func seed(t *testing.T, db *sqlite.DB) []*types.Task {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	local, err := types.NewTask("u-1", "Write docs", base)
	if err != nil {
		t.Fatal(err)
	}
	local.Tags = []string{"docs"}
	if _, err := local.AddComment("ada", "first draft done", types.SourceLocal, base); err != nil {
		t.Fatal(err)
	}

	imported, err := types.NewTask("u-1", "[api] Fix bug", base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	imported.Source = types.SourceGitHub
	imported.SourceID = "42"
	imported.SourceRef = "7"
	imported.Collection = "r1"

	for _, task := range []*types.Task{local, imported} {
		if err := db.PutTask(ctx, task); err != nil {
			t.Fatalf("PutTask failed: %v", err)
		}
	}
	return []*types.Task{local, imported}
}

func TestExportReadRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	seeded := seed(t, db)

	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), db, "u-1", &buf)
	if err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	if n != 2 || strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("exported %d tasks:\n%s", n, buf.String())
	}

	tasks, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("read %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != seeded[0].ID || len(tasks[0].Comments) != 1 {
		t.Errorf("first task = %+v", tasks[0])
	}
	if tasks[1].SourceID != "42" || tasks[1].SourceRef != "7" {
		t.Errorf("link fields lost: %+v", tasks[1])
	}
}

func TestReadJSONL_Invalid(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{\"id\":\"a\"}\n\n{not json}\n"))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("expected line 3 error, got %v", err)
	}
}

func TestImportJSONL(t *testing.T) {
	src := setupTestDB(t)
	seed(t, src)
	path := filepath.Join(t.TempDir(), "backup", "tasks.jsonl")
	if _, err := ExportJSONLFile(context.Background(), src, "u-1", path); err != nil {
		t.Fatalf("ExportJSONLFile failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}

	dst := setupTestDB(t)
	ctx := context.Background()

	dry, err := ImportJSONL(ctx, dst, path, ImportOptions{UserID: "u-2", DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if dry.Imported != 2 {
		t.Errorf("dry run imported = %d", dry.Imported)
	}
	if tasks, _ := dst.TasksByUser(ctx, "u-2"); len(tasks) != 0 {
		t.Fatalf("dry run wrote %d tasks", len(tasks))
	}

	res, err := ImportJSONL(ctx, dst, path, ImportOptions{UserID: "u-2"})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if res.Read != 2 || res.Imported != 2 || res.Skipped != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	tasks, _ := dst.TasksByUser(ctx, "u-2")
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks", len(tasks))
	}

	again, err := ImportJSONL(ctx, dst, path, ImportOptions{UserID: "u-2"})
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if again.Imported != 0 || again.Skipped != 2 {
		t.Errorf("second import not idempotent: %+v", again)
	}
}

func TestImportJSONL_SkipsDedupKeyAndInvalid(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	ctx := context.Background()

	// Same external item under a new local id, plus an invalid record.
	lines := `{"id":"new-id","title":"[api] Fix bug","status":"todo","priority":"medium","source":"github","source_id":"42","created_at":"2025-03-01T09:00:00Z","updated_at":"2025-03-01T09:00:00Z"}
{"id":"bad","title":"","status":"todo","priority":"medium","source":"local","created_at":"2025-03-01T09:00:00Z","updated_at":"2025-03-01T09:00:00Z"}
{"id":"fresh","title":"Fresh","status":"done","priority":"low","source":"local","created_at":"2025-03-01T09:00:00Z","updated_at":"2025-03-01T09:00:00Z"}
`
	path := filepath.Join(t.TempDir(), "in.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := ImportJSONL(ctx, db, path, ImportOptions{UserID: "u-1"})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 1 || res.Invalid != 1 || len(res.Errors) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestImportJSONL_Errors(t *testing.T) {
	db := setupTestDB(t)
	if _, err := ImportJSONL(context.Background(), db, "/nonexistent/path.jsonl", ImportOptions{UserID: "u-1"}); err == nil {
		t.Error("expected error for nonexistent file")
	}
	if _, err := ImportJSONL(context.Background(), db, "x", ImportOptions{}); err == nil {
		t.Error("expected error without user")
	}
}

func TestExportYAML(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)

	var buf bytes.Buffer
	n, err := ExportYAML(context.Background(), db, "u-1", &buf)
	if err != nil {
		t.Fatalf("ExportYAML failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d", n)
	}

	var snap struct {
		UserID string `yaml:"user_id"`
		Tasks  []struct {
			Title    string `yaml:"title"`
			SourceID string `yaml:"source_id"`
		} `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if snap.UserID != "u-1" || len(snap.Tasks) != 2 || snap.Tasks[1].SourceID != "42" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestExportYAMLFile(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)

	path := filepath.Join(t.TempDir(), "out", "tasks.yaml")
	n, err := ExportYAMLFile(context.Background(), db, "u-1", path)
	if err != nil {
		t.Fatalf("ExportYAMLFile failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d", n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if !strings.Contains(string(data), "Write docs") {
		t.Errorf("unexpected contents:\n%s", data)
	}
}
