package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/port"
)

// DiskUsage reports filesystem capacity for the storage root.
type DiskUsage struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	UsedPct float64 `json:"used_pct"`
}

// Registry owns the local file records and the storage root they live
// under. It holds no lock of its own: the storage manager serializes
// every call, and the initial scan runs before concurrent access exists.
type Registry struct {
	root    string
	catalog port.Catalog
	logger  *zap.Logger
	records map[domain.RegionID]domain.LocalFile
}

// New creates a registry rooted at dir, creating the directory if needed.
func New(dir string, catalog port.Catalog, logger *zap.Logger) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Registry{
		root:    dir,
		catalog: catalog,
		logger:  logger,
		records: make(map[domain.RegionID]domain.LocalFile),
	}, nil
}

// Root returns the storage root directory.
func (r *Registry) Root() string {
	return r.root
}

// Scan rebuilds the record set from disk. Only the newest version of each
// region survives; every older artifact is deleted. Deletion is
// best-effort: a file that cannot be removed is logged and retried on the
// next scan. Scanning an already pruned tree changes nothing.
func (r *Registry) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}

	type versionSet struct {
		version int64
		files   map[domain.RegionID]domain.LocalFile
	}

	var (
		mu   sync.Mutex
		sets []versionSet
	)
	g, _ := errgroup.WithContext(ctx)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		version, ok := ParseVersionDir(entry.Name())
		if !ok {
			continue
		}
		g.Go(func() error {
			files, err := r.scanVersionDir(version)
			if err != nil {
				return err
			}
			mu.Lock()
			sets = append(sets, versionSet{version: version, files: files})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Merge newest-first so the survivor of each region is its greatest
	// version; everything older goes.
	sort.Slice(sets, func(i, j int) bool { return sets[i].version > sets[j].version })
	records := make(map[domain.RegionID]domain.LocalFile)
	for _, set := range sets {
		for region, rec := range set.files {
			if _, ok := records[region]; ok {
				r.logger.Info("pruning obsolete version",
					zap.String("region", rec.Name),
					zap.Int64("version", rec.Version))
				r.deleteRecordFiles(rec)
				continue
			}
			records[region] = rec
		}
	}
	r.records = records
	return nil
}

func (r *Registry) scanVersionDir(version int64) (map[domain.RegionID]domain.LocalFile, error) {
	dir := VersionDir(r.root, version)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read version dir %s: %w", dir, err)
	}

	files := make(map[domain.RegionID]domain.LocalFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, part, ok := ParseArtifact(entry.Name())
		if !ok {
			continue
		}
		region := r.catalog.Lookup(name)
		if !region.IsValid() {
			r.logger.Debug("skipping artifact of unknown region",
				zap.String("file", entry.Name()),
				zap.Int64("version", version))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("stat artifact failed",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		rec, ok := files[region]
		if !ok {
			rec = domain.LocalFile{Region: region, Name: name, Version: version, Dir: dir}
		}
		rec.Parts = rec.Parts.Add(part)
		switch part {
		case domain.PartsBase:
			rec.BaseBytes = info.Size()
		case domain.PartsAuxiliary:
			rec.AuxBytes = info.Size()
		}
		files[region] = rec
	}

	// Auxiliary data cannot outlive its base; drop orphans so the record
	// set never exposes an invalid part set.
	for region, rec := range files {
		if rec.Parts.ValidOnDisk() {
			continue
		}
		r.logger.Warn("removing orphaned auxiliary artifact",
			zap.String("region", rec.Name),
			zap.Int64("version", version))
		r.deleteRecordFiles(rec)
		delete(files, region)
	}
	return files, nil
}

// Latest returns a copy of the surviving record of the region.
func (r *Registry) Latest(region domain.RegionID) (domain.LocalFile, bool) {
	rec, ok := r.records[region]
	return rec, ok
}

// Commit registers a freshly promoted artifact: it creates the record at
// the given version or extends it with the new part, rewrites the sidecar
// manifest and deletes any older version left on disk.
func (r *Registry) Commit(region domain.RegionID, name string, version int64, part domain.Parts, size int64) domain.LocalFile {
	rec, ok := r.records[region]
	switch {
	case !ok || rec.Version < version:
		if ok {
			r.logger.Info("pruning obsolete version",
				zap.String("region", rec.Name),
				zap.Int64("version", rec.Version))
			r.deleteRecordFiles(rec)
		}
		rec = domain.LocalFile{Region: region, Name: name, Version: version, Dir: VersionDir(r.root, version)}
	case rec.Version > version:
		// A stale transfer finished after a newer version was committed.
		// Drop the late artifact and keep the newer record.
		r.logger.Warn("discarding artifact older than current record",
			zap.String("region", name),
			zap.Int64("version", version),
			zap.Int64("current", rec.Version))
		r.removeFiles(name, removeIfExists(PartPath(r.root, version, name, part)))
		r.removeVersionDirIfEmpty(version)
		return rec
	}

	rec.Parts = rec.Parts.Add(part)
	switch part {
	case domain.PartsBase:
		rec.BaseBytes = size
	case domain.PartsAuxiliary:
		rec.AuxBytes = size
	}
	r.writeSidecar(rec)
	r.records[region] = rec
	return rec
}

// ApplyPartDelete removes the named parts of the region's record from
// disk. Removing the base part cascades to the auxiliary part, which
// cannot outlive it. Once no part remains the record itself dies: the
// sidecar goes and Latest stops reporting the region. Parts that are not
// present are skipped; file removal is best-effort.
func (r *Registry) ApplyPartDelete(region domain.RegionID, parts domain.Parts) {
	rec, ok := r.records[region]
	if !ok {
		return
	}
	doomed := parts.Cascade().Intersect(rec.Parts)
	if doomed == domain.PartsNone {
		return
	}

	var errs error
	for _, part := range doomed.Split() {
		errs = multierr.Append(errs, removeIfExists(PartPath(r.root, rec.Version, rec.Name, part)))
	}
	r.removeFiles(rec.Name, errs)

	rec.Parts = rec.Parts.Remove(doomed)
	if doomed.Has(domain.PartsBase) {
		rec.BaseBytes = 0
	}
	if doomed.Has(domain.PartsAuxiliary) {
		rec.AuxBytes = 0
	}
	if rec.Parts == domain.PartsNone {
		r.removeFiles(rec.Name, removeIfExists(SidecarPath(r.root, rec.Version, rec.Name)))
		delete(r.records, region)
		r.removeVersionDirIfEmpty(rec.Version)
		return
	}
	r.writeSidecar(rec)
	r.records[region] = rec
}

// EnsureVersionDir creates the directory a transfer will write into.
func (r *Registry) EnsureVersionDir(version int64) error {
	if err := os.MkdirAll(VersionDir(r.root, version), 0o755); err != nil {
		return fmt.Errorf("create version dir: %w", err)
	}
	return nil
}

// CleanupTransfer removes in-progress and resume files left under the
// given version for the named parts. Cancellation and deletion use it;
// failed transfers keep their files for diagnostics and resume.
func (r *Registry) CleanupTransfer(name string, version int64, parts domain.Parts) {
	var errs error
	for _, part := range parts.Split() {
		artifact := PartPath(r.root, version, name, part)
		errs = multierr.Append(errs, removeIfExists(TempPath(artifact)))
		errs = multierr.Append(errs, removeIfExists(ResumePath(artifact)))
	}
	r.removeFiles(name, errs)
	r.removeVersionDirIfEmpty(version)
}

// deleteRecordFiles removes every artifact of a record from disk,
// including the sidecar manifest. Failures are aggregated and logged; a
// residual file is preferred over failing the caller, and the next scan
// retries.
func (r *Registry) deleteRecordFiles(rec domain.LocalFile) {
	var errs error
	for _, part := range rec.Parts.Split() {
		errs = multierr.Append(errs, removeIfExists(PartPath(r.root, rec.Version, rec.Name, part)))
	}
	errs = multierr.Append(errs, removeIfExists(SidecarPath(r.root, rec.Version, rec.Name)))
	r.removeFiles(rec.Name, errs)
	r.removeVersionDirIfEmpty(rec.Version)
}

func (r *Registry) removeFiles(name string, errs error) {
	if errs != nil {
		r.logger.Warn("best-effort delete left residual files",
			zap.String("region", name),
			zap.Error(errs))
	}
}

func (r *Registry) removeVersionDirIfEmpty(version int64) {
	// Remove succeeds only on an empty directory.
	_ = os.Remove(VersionDir(r.root, version))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// sidecarManifest is the JSON body of the .map.idx file kept next to the
// artifacts of a committed version.
type sidecarManifest struct {
	Name        string    `json:"name"`
	Version     int64     `json:"version"`
	Parts       string    `json:"parts"`
	BaseBytes   int64     `json:"base_bytes"`
	AuxBytes    int64     `json:"auxiliary_bytes,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// writeSidecar rewrites the manifest of a record. The manifest is
// informational; scans trust artifact files, not sidecars, so a write
// failure is only logged.
func (r *Registry) writeSidecar(rec domain.LocalFile) {
	manifest := sidecarManifest{
		Name:        rec.Name,
		Version:     rec.Version,
		Parts:       rec.Parts.String(),
		BaseBytes:   rec.BaseBytes,
		AuxBytes:    rec.AuxBytes,
		CommittedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		path := SidecarPath(r.root, rec.Version, rec.Name)
		tmp := path + ".tmp"
		if err = os.WriteFile(tmp, data, 0o644); err == nil {
			err = os.Rename(tmp, path)
		}
		if err != nil {
			_ = os.Remove(tmp)
		}
	}
	if err != nil {
		r.logger.Warn("write sidecar manifest failed",
			zap.String("region", rec.Name),
			zap.Int64("version", rec.Version),
			zap.Error(err))
	}
}

// ReadSidecar loads the manifest of a committed version.
func ReadSidecar(path string) (name string, version int64, parts domain.Parts, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, domain.PartsNone, err
	}
	var manifest sidecarManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", 0, domain.PartsNone, fmt.Errorf("parse sidecar %s: %w", filepath.Base(path), err)
	}
	parts, err = domain.ParseParts(manifest.Parts)
	if err != nil {
		return "", 0, domain.PartsNone, err
	}
	return manifest.Name, manifest.Version, parts, nil
}
