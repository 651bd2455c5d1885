package catalogfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/port"
)

// document is the on-disk YAML shape of the region catalog.
type document struct {
	ActiveVersion int64         `yaml:"active_version"`
	Regions       []regionEntry `yaml:"regions"`
}

type regionEntry struct {
	Name           string `yaml:"name"`
	BaseBytes      int64  `yaml:"base_bytes"`
	AuxiliaryBytes int64  `yaml:"auxiliary_bytes"`
}

type regionInfo struct {
	name      string
	baseBytes int64
	auxBytes  int64
	listed    bool
}

// Catalog is a file-backed region directory. Region keys are assigned the
// first time a name is seen and stay stable across reloads, so state held
// against a key survives catalog edits. A region dropped from the file
// keeps its key and name but loses its descriptors and its place in
// Regions().
type Catalog struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	version int64
	byName  map[string]domain.RegionID
	infos   map[domain.RegionID]*regionInfo
	order   []domain.RegionID
	nextID  domain.RegionID
}

var _ port.Catalog = (*Catalog)(nil)

// Load reads the catalog document at path.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		logger: logger,
		byName: make(map[string]domain.RegionID),
		infos:  make(map[domain.RegionID]*regionInfo),
		nextID: 1,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the document. On any parse or validation error the
// previous state stays in effect.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	if err := validate(&doc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, info := range c.infos {
		info.listed = false
		info.baseBytes, info.auxBytes = 0, 0
	}
	order := make([]domain.RegionID, 0, len(doc.Regions))
	for _, entry := range doc.Regions {
		id, ok := c.byName[entry.Name]
		if !ok {
			id = c.nextID
			c.nextID++
			c.byName[entry.Name] = id
			c.infos[id] = &regionInfo{name: entry.Name}
		}
		info := c.infos[id]
		info.listed = true
		info.baseBytes = entry.BaseBytes
		info.auxBytes = entry.AuxiliaryBytes
		order = append(order, id)
	}
	c.order = order
	c.version = doc.ActiveVersion

	c.logger.Info("catalog loaded",
		zap.String("path", c.path),
		zap.Int64("active_version", doc.ActiveVersion),
		zap.Int("regions", len(order)))
	return nil
}

func validate(doc *document) error {
	if doc.ActiveVersion <= 0 {
		return fmt.Errorf("catalog: active_version must be positive, got %d", doc.ActiveVersion)
	}
	seen := make(map[string]bool, len(doc.Regions))
	for _, entry := range doc.Regions {
		if entry.Name == "" {
			return fmt.Errorf("catalog: region with empty name")
		}
		if seen[entry.Name] {
			return fmt.Errorf("catalog: duplicate region %q", entry.Name)
		}
		seen[entry.Name] = true
		if entry.BaseBytes <= 0 {
			return fmt.Errorf("catalog: region %q needs a positive base_bytes", entry.Name)
		}
		if entry.AuxiliaryBytes < 0 {
			return fmt.Errorf("catalog: region %q has a negative auxiliary_bytes", entry.Name)
		}
	}
	return nil
}

// Lookup resolves a region name, returning domain.InvalidRegion when the
// name has never appeared in the catalog.
func (c *Catalog) Lookup(name string) domain.RegionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// Name returns the catalog name for a key, or "" if unknown.
func (c *Catalog) Name(region domain.RegionID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.infos[region]; ok {
		return info.name
	}
	return ""
}

// RemoteDescriptor returns the remote size of one part. It is zero when
// the part, or the region itself, is absent from the current document.
func (c *Catalog) RemoteDescriptor(region domain.RegionID, part domain.Parts) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[region]
	if !ok {
		return 0
	}
	switch part {
	case domain.PartsBase:
		return info.baseBytes
	case domain.PartsAuxiliary:
		return info.auxBytes
	}
	return 0
}

// ActiveDataVersion returns the currently published data version.
func (c *Catalog) ActiveDataVersion() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Regions lists the regions of the current document in file order.
func (c *Catalog) Regions() []domain.RegionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.RegionID, len(c.order))
	copy(out, c.order)
	return out
}

// Watch reloads the catalog whenever its file changes, invoking onChange
// after each successful reload. It blocks until ctx is cancelled. The
// parent directory is watched so editors that replace the file by rename
// are picked up.
func (c *Catalog) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target, err := filepath.Abs(c.path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path, err := filepath.Abs(event.Name)
			if err != nil || path != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog reload failed, keeping previous state", zap.Error(err))
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
