package background

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// ExpiredPurger deletes records that stopped being usable before cutoff
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupManager periodically removes expired sessions and verification tokens.
// Records are kept for the retention window after they expire so audits can still join them.
type CleanupManager struct {
	sessions    ExpiredPurger
	tokens      ExpiredPurger
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	interval    time.Duration
	retention   time.Duration
	clock       func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions ExpiredPurger,
	tokens ExpiredPurger,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions:    sessions,
		tokens:      tokens,
		auditLogger: auditLogger,
		logger:      logger,
		interval:    interval,
		retention:   retention,
		clock:       time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup purges both stores. A failure in one does not skip the other.
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.clock().Add(-cm.retention)

	sessions, sessionErr := cm.purge(cleanupCtx, "sessions", cm.sessions, cutoff)
	tokens, tokenErr := cm.purge(cleanupCtx, "verification_tokens", cm.tokens, cutoff)

	event := pkglogger.AuditEvent{
		EventType: pkglogger.EventCleanup,
		Success:   sessionErr == nil && tokenErr == nil,
		Metadata: map[string]string{
			"sessions_deleted": strconv.FormatInt(sessions, 10),
			"tokens_deleted":   strconv.FormatInt(tokens, 10),
			"cutoff":           cutoff.UTC().Format(time.RFC3339),
		},
	}
	if !event.Success {
		event.FailureReason = "purge_failed"
	}
	cm.auditLogger.Log(ctx, event)
}

func (cm *CleanupManager) purge(ctx context.Context, name string, purger ExpiredPurger, cutoff time.Time) (int64, error) {
	rowsDeleted, err := purger.DeleteExpired(ctx, cutoff)
	if err != nil {
		cm.logger.Error("failed to purge expired records", slog.String("table", name), slog.Any("error", err))
		return 0, err
	}

	if rowsDeleted > 0 {
		cm.logger.Info("expired records purged", slog.String("table", name), slog.Int64("rows_deleted", rowsDeleted))
	}
	return rowsDeleted, nil
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
