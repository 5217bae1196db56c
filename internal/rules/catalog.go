package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CatalogConfig holds the rule catalog configuration.
type CatalogConfig struct {
	Directory      string        `yaml:"rules_directory"`
	ReloadOnChange bool          `yaml:"reload_on_change"`
	Debounce       time.Duration `yaml:"debounce"`
}

// DefaultCatalogConfig returns the default catalog configuration.
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Directory:      "configs/rules",
		ReloadOnChange: true,
		Debounce:       500 * time.Millisecond,
	}
}

// Snapshot is an immutable view of the loaded rule set. Snapshots are
// built whole and swapped atomically; readers never see a partial set.
type Snapshot struct {
	rules []*Rule
	byID  map[string]*Rule

	LoadedAt time.Time
	Loaded   int
	Skipped  int
}

// Rules returns the rule set ordered by ID. Callers must not mutate it.
func (s *Snapshot) Rules() []*Rule {
	return s.rules
}

// Catalog loads correlation rules from a directory and exposes the
// current snapshot. When watching is enabled, filesystem changes are
// coalesced through a debounce timer into single reloads.
type Catalog struct {
	config   CatalogConfig
	snapshot atomic.Pointer[Snapshot]

	watcher  *fsnotify.Watcher
	debounce *debouncer
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewCatalog creates a catalog and performs the initial load. A missing
// or empty rules directory yields an empty snapshot, not an error.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultCatalogConfig().Debounce
	}

	c := &Catalog{
		config: cfg,
		done:   make(chan struct{}),
	}
	c.snapshot.Store(&Snapshot{byID: map[string]*Rule{}, LoadedAt: time.Now()})

	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Rules returns the current snapshot's rule set, ordered by rule ID.
// Never blocks: readers take the last successfully loaded snapshot.
func (c *Catalog) Rules() []*Rule {
	return c.snapshot.Load().Rules()
}

// Rule returns the rule with the given ID from the current snapshot.
func (c *Catalog) Rule(id string) (*Rule, bool) {
	r, ok := c.snapshot.Load().byID[id]
	return r, ok
}

// Stats returns counters describing the current snapshot.
func (c *Catalog) Stats() map[string]any {
	snap := c.snapshot.Load()
	return map[string]any{
		"rules_loaded":  snap.Loaded,
		"files_skipped": snap.Skipped,
		"loaded_at":     snap.LoadedAt,
	}
}

// Reload re-scans the rules directory and swaps in a new snapshot. Each
// document parses independently: a malformed file is skipped and logged,
// never failing the reload or discarding the other files' rules.
func (c *Catalog) Reload() error {
	snap := &Snapshot{byID: make(map[string]*Rule), LoadedAt: time.Now()}

	entries, err := os.ReadDir(c.config.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("rules directory missing, using empty rule set",
				"dir", c.config.Directory)
			c.snapshot.Store(snap)
			return nil
		}
		return fmt.Errorf("failed to read rules directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		path := filepath.Join(c.config.Directory, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read rule file", "file", entry.Name(), "error", err)
			snap.Skipped++
			continue
		}

		rule, err := ParseRule(data)
		if err != nil {
			slog.Error("skipping invalid rule file", "file", entry.Name(), "error", err)
			snap.Skipped++
			continue
		}

		if _, dup := snap.byID[rule.ID]; dup {
			slog.Error("skipping rule with duplicate id",
				"file", entry.Name(), "rule_id", rule.ID)
			snap.Skipped++
			continue
		}

		snap.byID[rule.ID] = rule
		snap.rules = append(snap.rules, rule)
	}

	sort.Slice(snap.rules, func(i, j int) bool {
		return snap.rules[i].ID < snap.rules[j].ID
	})
	snap.Loaded = len(snap.rules)

	c.snapshot.Store(snap)
	slog.Info("rule catalog loaded",
		"rules", snap.Loaded,
		"skipped", snap.Skipped,
		"dir", c.config.Directory)
	return nil
}

// Watch starts the filesystem watcher. Change notifications are funneled
// through the debounce timer so bulk edits cause one reload, not a storm.
func (c *Catalog) Watch() error {
	if !c.config.ReloadOnChange {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.config.Directory); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}

	c.watcher = watcher
	c.debounce = newDebouncer(c.config.Debounce, func() {
		if err := c.Reload(); err != nil {
			slog.Error("rule catalog reload failed", "error", err)
		}
	})

	c.wg.Add(1)
	go c.watchLoop()

	slog.Info("rule catalog watching for changes",
		"dir", c.config.Directory,
		"debounce", c.config.Debounce)
	return nil
}

func (c *Catalog) watchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.debounce.Notify()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("rule watcher error", "error", err)
		}
	}
}

// Close stops the watcher and any pending debounced reload.
func (c *Catalog) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)
	if c.debounce != nil {
		c.debounce.Stop()
	}
	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	c.wg.Wait()
	return err
}
