package config

import (
	"errors"
	"testing"
)

func TestNewAppliesOptionsOverDefaults(t *testing.T) {
	cfg := New(WithDatabasePath("test.db"), WithCarve(true), WithTables("a", "b"))
	if cfg.DatabasePath != "test.db" {
		t.Errorf("DatabasePath = %q, want test.db", cfg.DatabasePath)
	}
	if !cfg.Carve {
		t.Error("Carve = false, want true")
	}
	if !cfg.StrictFormatChecking {
		t.Error("StrictFormatChecking should keep its default of true")
	}
	if len(cfg.Tables) != 2 {
		t.Errorf("got %d tables, want 2", len(cfg.Tables))
	}
}

func TestIncludesTableFiltering(t *testing.T) {
	cfg := New(WithTables("people", "orders"), WithExemptedTables("orders"))
	if !cfg.IncludesTable("people") {
		t.Error("people should be included")
	}
	if cfg.IncludesTable("orders") {
		t.Error("orders is explicitly exempted and should be excluded")
	}
	if cfg.IncludesTable("other") {
		t.Error("tables not in the allowlist should be excluded when Tables is non-empty")
	}
}

func TestIncludesTableDefaultsToAllWhenUnset(t *testing.T) {
	cfg := Default()
	if !cfg.IncludesTable("anything") {
		t.Error("with no Tables filter, every table should be included")
	}
}

type closeRecorder struct {
	name string
	log  *[]string
	err  error
}

func (c *closeRecorder) Close() error {
	*c.log = append(*c.log, c.name)
	return c.err
}

func TestResourceManagerClosesLIFO(t *testing.T) {
	var log []string
	rm := NewResourceManager()
	rm.Add(&closeRecorder{name: "first", log: &log})
	rm.Add(&closeRecorder{name: "second", log: &log})

	if err := rm.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 2 || log[0] != "second" || log[1] != "first" {
		t.Errorf("close order = %v, want [second first]", log)
	}
}

func TestResourceManagerRunsCleanersBeforeResourcesAndReportsLastError(t *testing.T) {
	var log []string
	rm := NewResourceManager()
	boom := errors.New("boom")
	rm.Add(&closeRecorder{name: "resource", log: &log, err: boom})
	rm.AddCleaner(func() error {
		log = append(log, "cleaner")
		return nil
	})

	err := rm.Close()
	if len(log) != 2 || log[0] != "cleaner" || log[1] != "resource" {
		t.Errorf("order = %v, want [cleaner resource]", log)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Close() error = %v, want %v", err, boom)
	}
}
