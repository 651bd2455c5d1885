package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/broker"
	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/port"
	"github.com/mapstash/mapstash/internal/registry"
)

// Manager is the download queue and per-region state machine. One mutex
// serializes every public operation, queue mutation, registry mutation
// and transport callback, so no two transitions interleave. Status is
// never stored: it is recomputed from the active transfer, the queue,
// the failure flags and the registry on every query.
//
// Notifications are enqueued while the mutex is held, preserving the
// order transitions happened in, and dispatched after it is released, so
// observer callbacks run lock-free and may re-enter any operation.
type Manager struct {
	catalog    port.Catalog
	files      *registry.Registry
	downloader port.Downloader
	journal    port.Journal
	events     *broker.Broker
	logger     *zap.Logger

	mu     sync.Mutex
	active *request
	queue  []*request
	failed map[domain.RegionID]struct{}
}

// New wires the state machine to its collaborators.
func New(catalog port.Catalog, files *registry.Registry, downloader port.Downloader, journal port.Journal, events *broker.Broker, logger *zap.Logger) *Manager {
	return &Manager{
		catalog:    catalog,
		files:      files,
		downloader: downloader,
		journal:    journal,
		events:     events,
		logger:     logger,
		failed:     make(map[domain.RegionID]struct{}),
	}
}

// Subscribe registers callbacks for status and progress events. Either
// callback may be nil.
func (m *Manager) Subscribe(onStatus broker.StatusFunc, onProgress broker.ProgressFunc) int {
	return m.events.Subscribe(onStatus, onProgress)
}

// Unsubscribe removes a subscription; see broker.Broker.Unsubscribe.
func (m *Manager) Unsubscribe(token int) error {
	return m.events.Unsubscribe(token)
}

// Status reports the region's current state.
func (m *Manager) Status(region domain.RegionID) (domain.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.knownLocked(region) {
		return domain.StatusNotDownloaded, domain.ErrRegionNotFound
	}
	return m.statusLocked(region), nil
}

// RequestDownload asks for the given parts of a region. If nothing is
// missing the request resolves immediately; otherwise it becomes the
// active download or joins the FIFO queue. Re-requesting a region that is
// already queued or downloading folds the widened part set into the
// existing entry instead of queueing twice.
func (m *Manager) RequestDownload(region domain.RegionID, parts domain.Parts) error {
	m.mu.Lock()
	err := m.requestLocked(region, parts)
	m.mu.Unlock()
	m.events.Dispatch()
	return err
}

// CancelDownload aborts the region's download, whether queued or active.
// The region reverts to whatever its on-disk state warrants. Cancelling
// a region with nothing in flight is a no-op.
func (m *Manager) CancelDownload(region domain.RegionID) error {
	m.mu.Lock()
	err := m.cancelLocked(region)
	m.mu.Unlock()
	m.events.Dispatch()
	return err
}

// Delete removes the named parts of a region from disk. Deleting the
// base part cascades to the auxiliary part. A queued or active download
// for the region is narrowed accordingly, and torn down entirely when
// nothing it requested remains. Exactly one status notification is
// emitted per call on a known region.
func (m *Manager) Delete(region domain.RegionID, parts domain.Parts) error {
	m.mu.Lock()
	err := m.deleteLocked(region, parts)
	m.mu.Unlock()
	m.events.Dispatch()
	return err
}

// SizeInBytes reports byte progress for the requested parts of a region.
// While a download request exists the pair mirrors progress events:
// (request progress, request total), with the total constant for the
// request's lifetime. Otherwise it is (bytes durable on disk for the
// requested parts, descriptor bytes of whatever is still missing).
func (m *Manager) SizeInBytes(region domain.RegionID, parts domain.Parts) (domain.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.knownLocked(region) {
		return domain.Progress{}, domain.ErrRegionNotFound
	}
	if r := m.findRequestLocked(region); r != nil {
		return domain.Progress{Downloaded: r.progress(), Total: r.total}, nil
	}
	var local int64
	if rec, ok := m.files.Latest(region); ok {
		local = rec.SizeOf(parts)
	}
	missing := m.missingLocked(region, parts)
	return domain.Progress{Downloaded: local, Total: m.descriptorSumLocked(region, missing)}, nil
}

// Latest returns a copy of the region's current local file record.
// Unknown regions and regions with nothing on disk report ok == false.
func (m *Manager) Latest(region domain.RegionID) (domain.LocalFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files.Latest(region)
}

// QueueSnapshot returns the active download and the queued requests in
// admission order.
func (m *Manager) QueueSnapshot() (*QueueItem, []QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active *QueueItem
	if m.active != nil {
		item := snapshotRequest(m.active)
		active = &item
	}
	queued := make([]QueueItem, 0, len(m.queue))
	for _, r := range m.queue {
		queued = append(queued, snapshotRequest(r))
	}
	return active, queued
}

// Rescan re-reads the storage root, pruning obsolete versions, and
// notifies every region whose visible status changed. Files may have
// been added or removed behind the manager's back.
func (m *Manager) Rescan(ctx context.Context) error {
	m.mu.Lock()
	before := m.statusSnapshotLocked()
	err := m.files.Scan(ctx)
	if err == nil {
		for region, prev := range before {
			if m.statusLocked(region) != prev {
				m.events.NotifyStatus(region)
			}
		}
	}
	m.mu.Unlock()
	m.events.Dispatch()
	if err != nil {
		m.logger.Error("storage rescan failed", zap.Error(err))
	}
	return err
}

// AnnounceDataVersion re-notifies the status of every region holding a
// local record. Called after the catalog's active version moves, so
// records older than the new version surface as out of date without any
// disk traffic.
func (m *Manager) AnnounceDataVersion() {
	m.mu.Lock()
	version := m.catalog.ActiveDataVersion()
	for _, region := range m.catalog.Regions() {
		if _, ok := m.files.Latest(region); ok {
			m.events.NotifyStatus(region)
		}
	}
	m.mu.Unlock()
	m.logger.Info("active data version announced", zap.Int64("version", version))
	m.events.Dispatch()
}

// DiskUsage reports filesystem capacity for the storage root.
func (m *Manager) DiskUsage() (*registry.DiskUsage, error) {
	return m.files.DiskUsage()
}

func (m *Manager) requestLocked(region domain.RegionID, parts domain.Parts) error {
	if !m.knownLocked(region) {
		return domain.ErrRegionNotFound
	}
	if parts == domain.PartsNone {
		return domain.ErrInvalidParts
	}

	// Auxiliary data cannot be acquired without its base: pull the base
	// in when it is neither durable at the active version nor requested.
	if parts.Has(domain.PartsAuxiliary) && !parts.Has(domain.PartsBase) {
		if m.missingLocked(region, domain.PartsBase) != domain.PartsNone {
			parts = parts.Add(domain.PartsBase)
		}
	}

	// A fresh request wipes the failure flag and retries like new.
	delete(m.failed, region)

	if r := m.findRequestLocked(region); r != nil {
		m.foldLocked(r, parts)
		return nil
	}

	missing := m.missingLocked(region, parts)
	if missing == domain.PartsNone {
		// Everything asked for is already durable. The single status
		// notification lets observers see the resolution, including a
		// cleared failure flag.
		m.events.NotifyStatus(region)
		return nil
	}

	r := &request{
		region:    region,
		name:      m.catalog.Name(region),
		version:   m.catalog.ActiveDataVersion(),
		parts:     parts,
		missing:   missing,
		total:     m.descriptorSumLocked(region, missing),
		startedAt: time.Now(),
	}
	m.logger.Info("download admitted",
		zap.String("region", r.name),
		zap.Stringer("parts", r.missing),
		zap.Int64("version", r.version),
		zap.Int64("bytes", r.total))

	if m.active == nil {
		m.active = r
		m.events.NotifyStatus(region)
		m.startPartLocked(r)
	} else {
		m.queue = append(m.queue, r)
		m.events.NotifyStatus(region)
	}
	return nil
}

// foldLocked widens an existing request with newly asked-for parts. Only
// genuinely missing parts not already covered join the work set; a fold
// that widens nothing stays silent.
func (m *Manager) foldLocked(r *request, parts domain.Parts) {
	r.parts = r.parts.Add(parts)
	extra := m.missingLocked(r.region, parts).Remove(r.missing)
	if extra == domain.PartsNone {
		return
	}
	r.missing = r.missing.Add(extra)
	r.total += m.descriptorSumLocked(r.region, extra)
	m.logger.Debug("request widened",
		zap.String("region", r.name),
		zap.Stringer("missing", r.missing))
	m.events.NotifyStatus(r.region)
}

func (m *Manager) cancelLocked(region domain.RegionID) error {
	if !m.knownLocked(region) {
		return domain.ErrRegionNotFound
	}
	if r := m.active; r != nil && r.region == region {
		m.cancelActiveLocked(r)
		return nil
	}
	if i := m.queueIndexLocked(region); i >= 0 {
		r := m.queue[i]
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.appendJournalLocked(r, domain.OutcomeCancelled, "")
		m.logger.Info("queued download removed", zap.String("region", r.name))
		m.events.NotifyStatus(region)
	}
	return nil
}

// cancelActiveLocked aborts the in-flight transfer, removes its partial
// files and promotes the next queued request. The transport fires no
// terminal callback after Cancel; a late one is discarded by token.
func (m *Manager) cancelActiveLocked(r *request) {
	m.downloader.Cancel(r.token)
	m.files.CleanupTransfer(r.name, r.version, r.parts)
	m.appendJournalLocked(r, domain.OutcomeCancelled, "")
	m.logger.Info("active download cancelled",
		zap.String("region", r.name),
		zap.Int64("bytes", r.progress()))
	m.active = nil
	m.events.NotifyStatus(r.region)
	m.promoteLocked()
}

func (m *Manager) deleteLocked(region domain.RegionID, parts domain.Parts) error {
	if !m.knownLocked(region) {
		return domain.ErrRegionNotFound
	}
	if parts == domain.PartsNone {
		return domain.ErrInvalidParts
	}
	parts = parts.Cascade()

	// A delete settles any failure state; status goes back to tracking
	// what is actually on disk.
	delete(m.failed, region)

	r := m.findRequestLocked(region)
	m.files.ApplyPartDelete(region, parts)
	if r == nil {
		m.events.NotifyStatus(region)
		return nil
	}

	m.files.CleanupTransfer(r.name, r.version, parts)
	remaining := r.parts.Remove(parts)
	if remaining == domain.PartsNone {
		m.abortRequestLocked(r)
		return nil
	}
	m.narrowLocked(r, parts, remaining)
	return nil
}

// narrowLocked shrinks an in-flight or queued request after a delete
// stripped some of its parts. The status notification fires even when
// the visible value does not change, so observers see the new shape.
func (m *Manager) narrowLocked(r *request, parts, remaining domain.Parts) {
	r.parts = remaining
	if dropped := r.missing.Intersect(parts); dropped != domain.PartsNone {
		r.missing = r.missing.Remove(dropped)
		r.total -= m.descriptorSumLocked(r.region, dropped)
	}
	// Parts this request already committed and the delete took away come
	// out of the accumulator too.
	if committed := r.fetched.Intersect(parts); committed != domain.PartsNone {
		r.fetched = r.fetched.Remove(committed)
		r.doneBytes -= m.descriptorSumLocked(r.region, committed)
	}

	if m.active == r && r.current != domain.PartsNone && parts.Has(r.current) {
		// The part on the wire was deleted out from under the request.
		m.downloader.Cancel(r.token)
		r.token = uuid.UUID{}
		r.current = domain.PartsNone
		r.transferred = 0
		if r.missing == domain.PartsNone {
			// Nothing left to fetch. The request completed if any of its
			// commits survive; otherwise it was cut down to nothing.
			if r.fetched != domain.PartsNone {
				m.completeLocked(r)
			} else {
				m.appendJournalLocked(r, domain.OutcomeCancelled, "")
				m.active = nil
				m.events.NotifyStatus(r.region)
				m.promoteLocked()
			}
			return
		}
		r.reported = r.progress()
		m.startPartLocked(r)
	} else if m.active != r && r.missing == domain.PartsNone {
		// A queued entry with nothing left to fetch evaporates.
		if i := m.queueIndexLocked(r.region); i >= 0 {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
		}
		m.appendJournalLocked(r, domain.OutcomeCancelled, "")
	}
	m.events.NotifyStatus(r.region)
}

// abortRequestLocked tears a request down after a delete stripped every
// part it was acquiring.
func (m *Manager) abortRequestLocked(r *request) {
	if m.active == r {
		m.downloader.Cancel(r.token)
		m.appendJournalLocked(r, domain.OutcomeCancelled, "")
		m.active = nil
		m.events.NotifyStatus(r.region)
		m.promoteLocked()
		return
	}
	if i := m.queueIndexLocked(r.region); i >= 0 {
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
	}
	m.appendJournalLocked(r, domain.OutcomeCancelled, "")
	m.events.NotifyStatus(r.region)
}

// promoteLocked makes the queue head active and starts its first
// transfer.
func (m *Manager) promoteLocked() {
	if m.active != nil || len(m.queue) == 0 {
		return
	}
	r := m.queue[0]
	m.queue = m.queue[1:]
	m.active = r
	m.events.NotifyStatus(r.region)
	m.startPartLocked(r)
}

// startPartLocked launches the transfer for the next missing part of the
// active request, base first, under a fresh generation token.
func (m *Manager) startPartLocked(r *request) {
	if err := m.files.EnsureVersionDir(r.version); err != nil {
		m.logger.Error("cannot prepare version dir",
			zap.Int64("version", r.version),
			zap.Error(err))
		m.failLocked(r, err)
		return
	}

	part := r.missing.Split()[0]
	r.current = part
	r.token = uuid.New()
	r.transferred = 0

	artifact := registry.PartPath(m.files.Root(), r.version, r.name, part)
	m.logger.Info("transfer starting",
		zap.String("region", r.name),
		zap.Stringer("part", part),
		zap.Int64("version", r.version))
	m.downloader.Start(port.Transfer{
		Token:      r.token,
		Region:     r.region,
		RemoteName: filepath.Base(artifact),
		Part:       part,
		Version:    r.version,
		Size:       m.catalog.RemoteDescriptor(r.region, part),
		Dest:       artifact,
		TempDest:   registry.TempPath(artifact),
		ResumeMark: registry.ResumePath(artifact),
	}, m.onTransferProgress, m.onTransferDone)
}

// onTransferProgress marshals a transport progress report into the state
// machine. Reports for superseded tokens are discarded; the high-water
// mark keeps notified values strictly increasing.
func (m *Manager) onTransferProgress(token uuid.UUID, bytes int64) {
	m.mu.Lock()
	if r := m.active; r != nil && r.token == token {
		r.transferred = bytes
		if p := min(r.progress(), r.total); p > r.reported {
			r.reported = p
			m.events.NotifyProgress(r.region, p, r.total)
		}
	}
	m.mu.Unlock()
	m.events.Dispatch()
}

// onTransferDone marshals the terminal transport callback into the state
// machine. Late callbacks from cancelled or superseded transfers are
// discarded by generation token.
func (m *Manager) onTransferDone(token uuid.UUID, bytes int64, err error) {
	m.mu.Lock()
	r := m.active
	if r == nil || r.token != token {
		m.mu.Unlock()
		m.logger.Debug("stale transfer callback discarded")
		return
	}
	switch {
	case err == nil:
		m.partDoneLocked(r, bytes)
	case errors.Is(err, domain.ErrCancelled):
		// A transport-initiated abort counts as a cancellation.
		m.cancelActiveLocked(r)
	default:
		m.failLocked(r, err)
	}
	m.mu.Unlock()
	m.events.Dispatch()
}

// partDoneLocked commits a finished part and advances the request to its
// next part or to completion.
func (m *Manager) partDoneLocked(r *request, bytes int64) {
	part := r.current
	m.files.Commit(r.region, r.name, r.version, part, bytes)
	r.fetched = r.fetched.Add(part)
	r.doneBytes += m.catalog.RemoteDescriptor(r.region, part)
	r.missing = r.missing.Remove(part)
	r.current = domain.PartsNone
	r.transferred = 0

	if r.missing != domain.PartsNone {
		m.startPartLocked(r)
		return
	}
	m.completeLocked(r)
}

func (m *Manager) completeLocked(r *request) {
	// The final progress value lands exactly on the total even when the
	// transport's last report was coalesced away.
	if r.reported < r.total {
		m.events.NotifyProgress(r.region, r.total, r.total)
	}
	m.appendJournalLocked(r, domain.OutcomeCompleted, "")
	m.logger.Info("download complete",
		zap.String("region", r.name),
		zap.Stringer("parts", r.fetched),
		zap.Int64("version", r.version),
		zap.Int64("bytes", r.total))
	m.active = nil
	m.events.NotifyStatus(r.region)
	m.promoteLocked()
}

// failLocked records a transport failure: the region flips to failed and
// the queue moves on. Partial transfer files stay on disk for resume and
// diagnostics.
func (m *Manager) failLocked(r *request, err error) {
	m.failed[r.region] = struct{}{}
	m.appendJournalLocked(r, domain.OutcomeFailed, err.Error())
	m.logger.Warn("download failed",
		zap.String("region", r.name),
		zap.Stringer("missing", r.missing),
		zap.Error(err))
	m.active = nil
	m.events.NotifyStatus(r.region)
	m.promoteLocked()
}

// missingLocked returns the subset of parts a download must fetch: parts
// not durable at the active data version whose remote descriptor is
// non-zero. Parts on disk at an older version count as missing.
func (m *Manager) missingLocked(region domain.RegionID, parts domain.Parts) domain.Parts {
	version := m.catalog.ActiveDataVersion()
	onDisk := domain.PartsNone
	if rec, ok := m.files.Latest(region); ok && rec.Version >= version {
		onDisk = rec.Parts
	}
	missing := domain.PartsNone
	for _, part := range parts.Split() {
		if onDisk.Has(part) {
			continue
		}
		if m.catalog.RemoteDescriptor(region, part) == 0 {
			continue
		}
		missing = missing.Add(part)
	}
	return missing
}

// statusLocked derives the status projection. Precedence: the active
// transfer wins over a queue slot, which wins over the failure flag,
// which wins over whatever is on disk.
func (m *Manager) statusLocked(region domain.RegionID) domain.Status {
	if m.active != nil && m.active.region == region {
		return domain.StatusDownloading
	}
	if m.queueIndexLocked(region) >= 0 {
		return domain.StatusInQueue
	}
	if _, ok := m.failed[region]; ok {
		return domain.StatusDownloadFailed
	}
	rec, ok := m.files.Latest(region)
	if !ok {
		return domain.StatusNotDownloaded
	}
	if rec.Version < m.catalog.ActiveDataVersion() {
		return domain.StatusOnDiskOutOfDate
	}
	return domain.StatusOnDisk
}

func (m *Manager) statusSnapshotLocked() map[domain.RegionID]domain.Status {
	statuses := make(map[domain.RegionID]domain.Status)
	for _, region := range m.catalog.Regions() {
		statuses[region] = m.statusLocked(region)
	}
	return statuses
}

func (m *Manager) knownLocked(region domain.RegionID) bool {
	return region.IsValid() && m.catalog.Name(region) != ""
}

func (m *Manager) queueIndexLocked(region domain.RegionID) int {
	for i, r := range m.queue {
		if r.region == region {
			return i
		}
	}
	return -1
}

func (m *Manager) findRequestLocked(region domain.RegionID) *request {
	if m.active != nil && m.active.region == region {
		return m.active
	}
	if i := m.queueIndexLocked(region); i >= 0 {
		return m.queue[i]
	}
	return nil
}

func (m *Manager) descriptorSumLocked(region domain.RegionID, parts domain.Parts) int64 {
	var n int64
	for _, part := range parts.Split() {
		n += m.catalog.RemoteDescriptor(region, part)
	}
	return n
}

// appendJournalLocked records a terminal transition. Journal failures
// are logged and otherwise ignored.
func (m *Manager) appendJournalLocked(r *request, outcome, errMsg string) {
	entry := domain.JournalEntry{
		Region:     r.name,
		Parts:      r.parts,
		Version:    r.version,
		Bytes:      r.progress(),
		Outcome:    outcome,
		Error:      errMsg,
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
	}
	if err := m.journal.Append(entry); err != nil {
		m.logger.Warn("journal append failed",
			zap.String("region", r.name),
			zap.Error(err))
	}
}

func snapshotRequest(r *request) QueueItem {
	return QueueItem{
		Region:     r.region,
		Name:       r.name,
		Parts:      r.parts,
		Missing:    r.missing,
		Version:    r.version,
		Downloaded: r.progress(),
		Total:      r.total,
	}
}
