package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// RescanInterval is how often to re-read the storage root
	RescanInterval time.Duration

	// PurgeInterval is how often to purge old journal entries
	PurgeInterval time.Duration

	// JournalRetention is how long journal entries are kept
	JournalRetention time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		RescanInterval:   time.Hour,
		PurgeInterval:    6 * time.Hour,
		JournalRetention: 30 * 24 * time.Hour,
	}
}

// Rescanner re-reads the storage root and reconciles in-memory state
// with what is actually on disk.
type Rescanner interface {
	Rescan(ctx context.Context) error
}

// Service runs the periodic background work: storage rescans, so files
// added or removed behind the daemon's back are picked up, and journal
// purges, so the journal does not grow without bound.
type Service struct {
	config  *Config
	storage Rescanner
	journal port.Journal
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, storage Rescanner, journal port.Journal, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RescanInterval == 0 {
		cfg.RescanInterval = time.Hour
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = 6 * time.Hour
	}
	if cfg.JournalRetention == 0 {
		cfg.JournalRetention = 30 * 24 * time.Hour
	}

	return &Service{
		config:  cfg,
		storage: storage,
		journal: journal,
		logger:  logger,
	}
}

// Start starts the maintenance service and blocks until ctx is done or
// Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("rescan_interval", s.config.RescanInterval),
		zap.Duration("purge_interval", s.config.PurgeInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	rescanTicker := time.NewTicker(s.config.RescanInterval)
	defer rescanTicker.Stop()

	purgeTicker := time.NewTicker(s.config.PurgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rescanTicker.C:
			s.rescan(ctx)
		case <-purgeTicker.C:
			s.purgeJournal()
		}
	}
}

// rescan reconciles the storage state with the filesystem
func (s *Service) rescan(ctx context.Context) {
	if err := s.storage.Rescan(ctx); err != nil {
		s.logger.Error("periodic rescan failed", zap.Error(err))
	}
}

// purgeJournal removes journal entries older than the retention window
func (s *Service) purgeJournal() {
	purged, err := s.journal.Purge(s.config.JournalRetention)
	if err != nil {
		s.logger.Error("failed to purge journal", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("purged old journal entries", zap.Int("count", purged))
	}
}
