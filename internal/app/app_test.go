package app

import (
	"context"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/config"
	"github.com/martinsuchenak/asicfleet/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PingRetries:     1,
		PingTimeout:     200 * time.Millisecond,
		ScanThreads:     4,
		GetMinerRetries: 1,
		GetDataRetries:  1,
		RebootThreads:   4,
		ConfigThreads:   4,
		CommandThreads:  4,
		DataDir:         t.TempDir(),
	}
}

func TestNew_WithoutHistory(t *testing.T) {
	a, err := New(testConfig(t), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Store != nil {
		t.Error("Store should be nil without history")
	}
	if n, err := a.Restore(); n != 0 || err != nil {
		t.Errorf("Restore() = %d, %v, want 0, nil", n, err)
	}
}

func TestApp_Restore(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, Options{History: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if n, err := a.Restore(); n != 0 || err != nil {
		t.Fatalf("Restore() on empty history = %d, %v", n, err)
	}

	done := time.Now()
	scan := &model.Scan{ID: "scan-1", Network: "10.0.0.0/30", Status: model.ScanCompleted, StartedAt: done.Add(-time.Minute), CompletedAt: &done}
	if err := a.Store.SaveScan(scan); err != nil {
		t.Fatal(err)
	}
	if err := a.Store.SaveSnapshot(scan.ID, []model.Record{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}); err != nil {
		t.Fatal(err)
	}
	a.Close()

	// A second process sees the persisted fleet.
	b, err := New(cfg, Options{History: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	n, err := b.Restore()
	if err != nil || n != 2 {
		t.Fatalf("Restore() = %d, %v, want 2", n, err)
	}
	if b.Fleet.Len() != 2 {
		t.Errorf("Fleet.Len() = %d, want 2", b.Fleet.Len())
	}
}

func TestApp_RefreshTaskEmptyFleet(t *testing.T) {
	a, err := New(testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.refreshTask(context.Background(), taskRefresh); err != nil {
		t.Errorf("refreshTask() error = %v", err)
	}
}

func TestApp_StartScheduler(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		history bool
		tasks   int
		wantErr bool
	}{
		{"nothing scheduled", "", false, 0, false},
		{"refresh only", "@every 1h", false, 1, false},
		{"refresh and prune", "*/5 * * * *", true, 2, false},
		{"bad schedule", "every now and then", false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.RefreshSchedule = tt.spec
			a, err := New(cfg, Options{History: tt.history})
			if err != nil {
				t.Fatal(err)
			}
			defer a.Close()

			err = a.StartScheduler()
			if (err != nil) != tt.wantErr {
				t.Fatalf("StartScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := len(a.Scheduler.Tasks()); !tt.wantErr && got != tt.tasks {
				t.Errorf("Tasks() = %d, want %d", got, tt.tasks)
			}
		})
	}
}
