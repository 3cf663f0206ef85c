package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MetaDJ/internal/model"
	pkgerrors "MetaDJ/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// CircuitAuditLog is the GORM model for the circuit_audit_logs table.
type CircuitAuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Provider   string    `gorm:"column:provider;type:varchar(64);not null;index"`
	ActionType string    `gorm:"column:action_type;type:varchar(50);not null"`
	FromState  string    `gorm:"column:from_state;type:varchar(16)"`
	ToState    string    `gorm:"column:to_state;type:varchar(16)"`
	Details    string    `gorm:"column:details;type:text"` // JSON string
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (CircuitAuditLog) TableName() string {
	return "circuit_audit_logs"
}

// CircuitAuditLogger writes circuit transitions to the audit table from a
// background goroutine. Publish never blocks; a full buffer drops the event.
type CircuitAuditLogger struct {
	db      *gorm.DB
	logChan chan *CircuitAuditLog
	logger  *log.Helper
	done    chan struct{}
	once    sync.Once
}

// NewCircuitAuditLogger creates the audit logger and starts its writer.
func NewCircuitAuditLogger(db *gorm.DB, logger log.Logger) *CircuitAuditLogger {
	al := &CircuitAuditLogger{
		db:      db,
		logChan: make(chan *CircuitAuditLog, 1000),
		logger:  log.NewHelper(log.With(logger, "module", "data/audit")),
		done:    make(chan struct{}),
	}

	go al.start()

	return al
}

func (a *CircuitAuditLogger) start() {
	defer close(a.done)
	for entry := range a.logChan {
		a.write(entry)
	}
}

func (a *CircuitAuditLogger) write(entry *CircuitAuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		a.logger.Errorw("msg", "failed to write circuit audit log",
			"provider", entry.Provider,
			"action_type", entry.ActionType,
			"db_error_type", dbErr.Type.String(),
			"retryable", dbErr.Retryable(),
			"error", err)
		return
	}
	a.logger.Debugw("msg", "circuit audit log written",
		"provider", entry.Provider,
		"action_type", entry.ActionType)
}

// Publish queues a circuit event for persistence.
func (a *CircuitAuditLogger) Publish(_ context.Context, ev *model.CircuitEvent) {
	details, err := json.Marshal(map[string]interface{}{
		"consecutive_failures": ev.ConsecutiveFailures,
		"total_failures":       ev.TotalFailures,
		"reason":               ev.Reason,
	})
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	entry := &CircuitAuditLog{
		Provider:   ev.Provider,
		ActionType: model.AuditAction(ev.Transition),
		FromState:  string(ev.From),
		ToState:    string(ev.To),
		Details:    string(details),
		OccurredAt: ev.At,
	}

	select {
	case a.logChan <- entry:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"provider", ev.Provider,
			"action_type", entry.ActionType)
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (a *CircuitAuditLogger) Close() {
	a.once.Do(func() {
		close(a.logChan)
		<-a.done
	})
}

// Recent returns the latest audit rows for a provider, newest first.
func (a *CircuitAuditLogger) Recent(ctx context.Context, provider string, limit int) ([]CircuitAuditLog, error) {
	var rows []CircuitAuditLog
	err := a.db.WithContext(ctx).
		Where("provider = ?", provider).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
