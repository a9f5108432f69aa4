package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/model"
)

// setupTestStorage creates a temporary storage instance for testing
func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	return storage
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testScan(id string, offset int) *model.Scan {
	done := base.Add(time.Duration(offset)*time.Minute + 30*time.Second)
	return &model.Scan{
		ID:          id,
		Network:     "10.0.0.0/24",
		Status:      model.ScanCompleted,
		TotalHosts:  254,
		ProbedHosts: 254,
		FoundHosts:  3,
		StartedAt:   base.Add(time.Duration(offset) * time.Minute),
		CompletedAt: &done,
	}
}

func TestNewSQLiteStorage_Migrations(t *testing.T) {
	ss := setupTestStorage(t)

	version, err := ss.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if want := migrations[len(migrations)-1].version; version != want {
		t.Errorf("SchemaVersion() = %d, want %d", version, want)
	}

	// Reopening must not reapply anything.
	dir := filepath.Dir(ss.Path())
	ss.Close()
	again, err := NewSQLiteStorage(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer again.Close()
	if v, _ := again.SchemaVersion(); v != version {
		t.Errorf("SchemaVersion() after reopen = %d, want %d", v, version)
	}
}

func TestSQLiteStorage_Scans(t *testing.T) {
	ss := setupTestStorage(t)

	if _, err := ss.GetScan("missing"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("GetScan() error = %v, want ErrScanNotFound", err)
	}

	running := testScan("a", 0)
	running.Status = model.ScanRunning
	running.CompletedAt = nil
	if err := ss.SaveScan(running); err != nil {
		t.Fatalf("SaveScan() error = %v", err)
	}

	got, err := ss.GetScan("a")
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if got.Status != model.ScanRunning || got.CompletedAt != nil {
		t.Errorf("GetScan() = %+v, want running without completion", got)
	}

	// Saving again updates in place.
	if err := ss.SaveScan(testScan("a", 0)); err != nil {
		t.Fatalf("SaveScan() update error = %v", err)
	}
	got, _ = ss.GetScan("a")
	if got.Status != model.ScanCompleted || got.CompletedAt == nil {
		t.Errorf("GetScan() after update = %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
	}

	for i := 1; i <= 4; i++ {
		if err := ss.SaveScan(testScan(fmt.Sprintf("s%d", i), i)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"limited", 2, []string{"s4", "s3"}},
		{"all", 10, []string{"s4", "s3", "s2", "s1", "a"}},
		{"default limit", 0, []string{"s4", "s3", "s2", "s1", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scans, err := ss.ListScans(tt.limit)
			if err != nil {
				t.Fatalf("ListScans() error = %v", err)
			}
			if len(scans) != len(tt.want) {
				t.Fatalf("ListScans() returned %d scans, want %d", len(scans), len(tt.want))
			}
			for i, id := range tt.want {
				if scans[i].ID != id {
					t.Errorf("ListScans()[%d] = %s, want %s", i, scans[i].ID, id)
				}
			}
		})
	}
}

func TestSQLiteStorage_SaveScanMissingID(t *testing.T) {
	ss := setupTestStorage(t)
	if err := ss.SaveScan(&model.Scan{}); err == nil {
		t.Error("SaveScan() expected error for empty id")
	}
}

func TestSQLiteStorage_Operations(t *testing.T) {
	ss := setupTestStorage(t)

	op := &model.Operation{
		ID:          "op1",
		Kind:        model.OpReboot,
		Targets:     []string{"10.0.0.1", "10.0.0.2"},
		StartedAt:   base,
		CompletedAt: base.Add(time.Second),
	}
	op.Add(model.OperationResult{IP: "10.0.0.1", OK: true, Output: "Reboot command succeeded."})
	op.Add(model.OperationResult{IP: "10.0.0.2", Error: "unreachable", Output: "Reboot command failed."})

	if err := ss.SaveOperation(op); err != nil {
		t.Fatalf("SaveOperation() error = %v", err)
	}

	got, err := ss.GetOperation("op1")
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if got.Kind != model.OpReboot || got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("GetOperation() = %+v", got)
	}
	if len(got.Targets) != 2 || len(got.Results) != 2 || got.Results[1].Error != "unreachable" {
		t.Errorf("GetOperation() targets/results = %v / %+v", got.Targets, got.Results)
	}

	if _, err := ss.GetOperation("nope"); !errors.Is(err, ErrOperationNotFound) {
		t.Errorf("GetOperation() error = %v, want ErrOperationNotFound", err)
	}

	second := &model.Operation{ID: "op2", Kind: model.OpRefresh, StartedAt: base.Add(time.Minute), CompletedAt: base.Add(time.Minute)}
	if err := ss.SaveOperation(second); err != nil {
		t.Fatalf("SaveOperation() error = %v", err)
	}

	ops, err := ss.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 || ops[0].ID != "op2" || ops[1].ID != "op1" {
		t.Fatalf("ListOperations() = %+v", ops)
	}
	if ops[1].Results != nil {
		t.Error("ListOperations() should omit per-device results")
	}
	if ops[0].Targets == nil {
		t.Error("ListOperations() targets should decode to an empty slice")
	}
}

func TestSQLiteStorage_Snapshots(t *testing.T) {
	ss := setupTestStorage(t)

	if _, _, err := ss.LatestSnapshot(); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("LatestSnapshot() error = %v, want ErrScanNotFound", err)
	}

	hr := 13.5
	for i, id := range []string{"old", "new"} {
		if err := ss.SaveScan(testScan(id, i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ss.SaveSnapshot("old", []model.Record{{IP: "10.0.0.9"}}); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	records := []model.Record{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}
	records[0].Hashrate = &hr
	if err := ss.SaveSnapshot("new", records); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	// A second save replaces rather than duplicates.
	if err := ss.SaveSnapshot("new", records); err != nil {
		t.Fatalf("SaveSnapshot() repeat error = %v", err)
	}

	scan, got, err := ss.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if scan.ID != "new" {
		t.Errorf("LatestSnapshot() scan = %s, want new", scan.ID)
	}
	if len(got) != 2 {
		t.Fatalf("LatestSnapshot() returned %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.IP == "10.0.0.1" && (rec.Hashrate == nil || *rec.Hashrate != hr) {
			t.Errorf("record %s hashrate = %v, want %v", rec.IP, rec.Hashrate, hr)
		}
	}

	if err := ss.SaveSnapshot("ghost", records); err == nil {
		t.Error("SaveSnapshot() expected foreign key error for unknown scan")
	}
}

func TestSQLiteStorage_Prune(t *testing.T) {
	ss := setupTestStorage(t)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := ss.SaveScan(testScan(id, i)); err != nil {
			t.Fatal(err)
		}
		if err := ss.SaveSnapshot(id, []model.Record{{IP: "10.0.0.1"}}); err != nil {
			t.Fatal(err)
		}
	}

	if err := ss.Prune(2); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	scans, _ := ss.ListScans(10)
	if len(scans) != 2 || scans[0].ID != "s4" || scans[1].ID != "s3" {
		t.Errorf("ListScans() after Prune = %+v", scans)
	}

	var rows int
	if err := ss.db.QueryRow(`SELECT COUNT(*) FROM device_snapshots`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("snapshot rows after Prune = %d, want 2 (cascade)", rows)
	}
}
