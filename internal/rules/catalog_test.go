package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRule(t *testing.T, dir, file, doc string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write rule file: %v", err)
	}
}

func ruleDoc(id string) string {
	return "id: " + id + "\nname: Test rule\nenabled: true\nseverity: low\ntriggers:\n  - eventType: auth.failure\n"
}

func TestCatalogLoad(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "b.yaml", ruleDoc("rule-b"))
	writeRule(t, dir, "a.yaml", ruleDoc("rule-a"))
	writeRule(t, dir, "notes.txt", "not a rule")

	catalog, err := NewCatalog(CatalogConfig{Directory: dir})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer catalog.Close()

	loaded := catalog.Rules()
	if len(loaded) != 2 {
		t.Fatalf("loaded %d rules, want 2", len(loaded))
	}
	// Snapshot is ordered by rule ID.
	if loaded[0].ID != "rule-a" || loaded[1].ID != "rule-b" {
		t.Errorf("unexpected order: %s, %s", loaded[0].ID, loaded[1].ID)
	}

	if _, ok := catalog.Rule("rule-a"); !ok {
		t.Error("Rule(rule-a) not found")
	}
	if _, ok := catalog.Rule("rule-z"); ok {
		t.Error("Rule(rule-z) unexpectedly found")
	}
}

func TestCatalogSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "good.yaml", ruleDoc("good"))
	writeRule(t, dir, "broken.yaml", "id: [unclosed")
	writeRule(t, dir, "invalid.yaml", "id: no-name\nseverity: low\n")
	writeRule(t, dir, "dup.yaml", ruleDoc("good"))

	catalog, err := NewCatalog(CatalogConfig{Directory: dir})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer catalog.Close()

	if got := len(catalog.Rules()); got != 1 {
		t.Errorf("loaded %d rules, want 1", got)
	}

	stats := catalog.Stats()
	if stats["files_skipped"] != 3 {
		t.Errorf("files_skipped = %v, want 3", stats["files_skipped"])
	}
}

func TestCatalogMissingDirectory(t *testing.T) {
	catalog, err := NewCatalog(CatalogConfig{Directory: filepath.Join(t.TempDir(), "absent")})
	if err != nil {
		t.Fatalf("missing directory should not fail: %v", err)
	}
	defer catalog.Close()

	if got := len(catalog.Rules()); got != 0 {
		t.Errorf("expected empty rule set, got %d rules", got)
	}
}

func TestCatalogReload(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "first.yaml", ruleDoc("first"))

	catalog, err := NewCatalog(CatalogConfig{Directory: dir})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer catalog.Close()

	before := catalog.Rules()
	writeRule(t, dir, "second.yaml", ruleDoc("second"))

	if err := catalog.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := len(catalog.Rules()); got != 2 {
		t.Errorf("after reload loaded %d rules, want 2", got)
	}
	// The pre-reload snapshot is immutable.
	if len(before) != 1 {
		t.Errorf("old snapshot changed: %d rules", len(before))
	}
}

func TestCatalogReloadKeepsOtherRulesOnBadFile(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "keep.yaml", ruleDoc("keep"))

	catalog, err := NewCatalog(CatalogConfig{Directory: dir})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer catalog.Close()

	writeRule(t, dir, "new.yaml", "triggers: [")
	if err := catalog.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if _, ok := catalog.Rule("keep"); !ok {
		t.Error("valid rule lost after reload with a bad file present")
	}
}

func TestCatalogWatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "first.yaml", ruleDoc("first"))

	catalog, err := NewCatalog(CatalogConfig{
		Directory:      dir,
		ReloadOnChange: true,
		Debounce:       20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer catalog.Close()

	if err := catalog.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeRule(t, dir, "second.yaml", ruleDoc("second"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(catalog.Rules()) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watcher did not reload: %d rules", len(catalog.Rules()))
}

func TestDebouncerCoalesces(t *testing.T) {
	fired := make(chan struct{}, 10)
	d := newDebouncer(30*time.Millisecond, func() { fired <- struct{}{} })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Notify()
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}

	select {
	case <-fired:
		t.Fatal("burst of notifications fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerStop(t *testing.T) {
	fired := make(chan struct{}, 1)
	d := newDebouncer(20*time.Millisecond, func() { fired <- struct{}{} })

	d.Notify()
	d.Stop()

	select {
	case <-fired:
		t.Fatal("stopped debouncer fired")
	case <-time.After(100 * time.Millisecond):
	}

	// Notifications after Stop are ignored.
	d.Notify()
	select {
	case <-fired:
		t.Fatal("debouncer fired after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
