package db

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/xrdesk/xrbridge/internal/timeutil"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db := setupTestDB(t)

	st, err := db.GetMigrationStatus()
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	want := MigrationStatus{CurrentVersion: latest, LatestVersion: latest, TableExists: true}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if st.Pending() {
		t.Error("no migrations should be pending")
	}

	for _, table := range []string{"activation_sessions", "display_events", "recenters"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	v, dirty, err := db.MigrateVersion()
	if err != nil || dirty || v != 1 {
		t.Fatalf("after down: version=%d dirty=%v err=%v", v, dirty, err)
	}

	if err := db.MigrateTo(2); err != nil {
		t.Fatalf("MigrateTo: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp at latest should be a no-op: %v", err)
	}
	v, _, _ = db.MigrateVersion()
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestBaselineAtVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.BaselineAtVersion(1); err != nil {
		t.Fatalf("BaselineAtVersion: %v", err)
	}
	if err := db.BaselineAtVersion(1); err == nil {
		t.Error("second baseline should fail")
	}
	v, _, err := db.MigrateVersion()
	if err != nil || v != 1 {
		t.Errorf("version = %d, %v; want 1", v, err)
	}
}

func TestRecordActivation_Sessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	steps := []struct {
		enabled bool
		at      time.Time
	}{
		{true, t0},
		{false, t0.Add(10 * time.Second)},
		{false, t0.Add(11 * time.Second)}, // no open session; no-op
		{true, t0.Add(20 * time.Second)},
		{true, t0.Add(30 * time.Second)}, // left open by a crash
	}
	for _, s := range steps {
		if err := db.RecordActivation(ctx, s.enabled, s.at); err != nil {
			t.Fatalf("RecordActivation(%v, %v): %v", s.enabled, s.at, err)
		}
	}

	got, err := db.ActivationSessions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sessions, want 3", len(got))
	}
	if got[0].EndedAt != nil {
		t.Errorf("newest session should be open, ended at %v", got[0].EndedAt)
	}
	if !got[1].StartedAt.Equal(t0.Add(20*time.Second)) || got[1].EndedAt == nil || !got[1].EndedAt.Equal(t0.Add(30*time.Second)) {
		t.Errorf("interrupted session = %+v", got[1])
	}
	if d := got[2].Duration(t0.Add(time.Hour)); d != 10*time.Second {
		t.Errorf("first session duration = %v, want 10s", d)
	}
	if d := got[0].Duration(t0.Add(35 * time.Second)); d != 5*time.Second {
		t.Errorf("open session duration = %v, want 5s", d)
	}
	if got[0].ID == got[1].ID {
		t.Error("session ids should be unique")
	}
}

func TestRecenters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, src := range []string{"reset", "manual", "reset"} {
		if err := db.RecordRecenter(ctx, src, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.Recenters(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []Recenter{
		{Source: "reset", At: t0.Add(2 * time.Second)},
		{Source: "manual", At: t0.Add(time.Second)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recenters mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplayLog_DiffsRegistryLists(t *testing.T) {
	db := setupTestDB(t)
	clock := timeutil.NewMockClock(t0)
	restored := vdisplay.Info{ID: "XR_VirtualDisplay_1920x1080_1", Width: 1920, Height: 1080}
	log := NewDisplayLog(db, clock, []vdisplay.Info{restored})

	added := vdisplay.Info{ID: "XR_VirtualDisplay_2560x1440_2", Width: 2560, Height: 1440}
	log.Changed([]vdisplay.Info{restored, added})
	clock.Advance(time.Second)
	log.Changed([]vdisplay.Info{added})
	clock.Advance(time.Second)
	log.Changed([]vdisplay.Info{added}) // unchanged

	got, err := db.DisplayEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []DisplayEvent{
		{DisplayID: restored.ID, Width: 1920, Height: 1080, Action: DisplayRemoved, At: t0.Add(time.Second)},
		{DisplayID: added.ID, Width: 2560, Height: 1440, Action: DisplayCreated, At: t0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DisplayEvents mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordDisplayEvent_RejectsUnknownAction(t *testing.T) {
	db := setupTestDB(t)
	err := db.RecordDisplayEvent(context.Background(), DisplayEvent{DisplayID: "x", Action: "resized", At: t0})
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	if err := db.RecordRecenter(context.Background(), "manual", t0); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux, "history.db"); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("SQLite format 3\x00")) {
		t.Errorf("backup is not a sqlite file: %q", raw[:16])
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	tests := []struct {
		args    []string
		wantErr error
		want    string
	}{
		{args: nil, wantErr: ErrUsage, want: "Usage: xrbridge migrate"},
		{args: []string{"help"}, want: "Actions:"},
		{args: []string{"status"}, want: "Current version: 0"},
		{args: []string{"up"}, want: "Current version: 2 (dirty: false)"},
		{args: []string{"down"}, want: "Current version: 1 (dirty: false)"},
		{args: []string{"version", "2"}, want: "Migrated to version 2"},
		{args: []string{"version"}, wantErr: ErrUsage},
		{args: []string{"version", "two"}, wantErr: ErrUsage},
		{args: []string{"force", "1"}, want: "Re-run with --yes"},
		{args: []string{"force", "2", "--yes"}, want: "forced to 2"},
		{args: []string{"bogus"}, wantErr: ErrUsage, want: "Unknown migrate action"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			var out bytes.Buffer
			err := RunMigrateCommand(tt.args, path, &out)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q does not contain %q", out.String(), tt.want)
			}
		})
	}
}
