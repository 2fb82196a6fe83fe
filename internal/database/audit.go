package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentnet/coordination"
)

// SessionRecord is the durable audit row written when a coordination
// session reaches a terminal state.
type SessionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	CoordinationID string `gorm:"uniqueIndex;size:64"`
	CoordinatorID  string `gorm:"index;size:64"`
	Pattern        string `gorm:"size:32"`
	Goal           string
	Status         string `gorm:"index;size:32"`
	CancelReason   string
	Participants   int
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	BlockedTasks   int
	CreatedAt      time.Time
	ClosedAt       time.Time
}

// TaskRecord is the per-task audit row stored alongside its session.
type TaskRecord struct {
	ID              uint   `gorm:"primaryKey"`
	CoordinationID  string `gorm:"index;size:64"`
	TaskID          string `gorm:"uniqueIndex;size:64"`
	TaskType        string `gorm:"size:64"`
	Status          string `gorm:"index;size:32"`
	AssignedAgentID string `gorm:"size:64"`
	Retries         int
	Result          []byte
	FailureReason   string
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// AuditStore archives closed coordination sessions. It implements
// coordination.Archiver.
type AuditStore struct {
	pool   *PoolManager
	logger *zap.Logger
}

// NewAuditStore migrates the audit schema and returns the store.
func NewAuditStore(pool *PoolManager, logger *zap.Logger) (*AuditStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if err := pool.DB().AutoMigrate(&SessionRecord{}, &TaskRecord{}); err != nil {
		return nil, fmt.Errorf("audit schema migration failed: %w", err)
	}
	return &AuditStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "audit_store")),
	}, nil
}

// SessionClosed writes the session and its tasks in one transaction.
// Closing the same session twice upserts rather than duplicating rows.
func (s *AuditStore) SessionClosed(ctx context.Context, session *coordination.Session, tasks []*coordination.Task) error {
	record := SessionRecord{
		CoordinationID: session.CoordinationID,
		CoordinatorID:  session.CoordinatorID,
		Pattern:        string(session.Type),
		Goal:           session.Goal,
		Status:         string(session.Status),
		CancelReason:   session.CancelReason,
		Participants:   len(session.Participants()),
		TotalTasks:     len(tasks),
		CreatedAt:      session.CreatedAt,
		ClosedAt:       time.Now(),
	}

	taskRecords := make([]TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		switch task.Status {
		case coordination.TaskCompleted:
			record.CompletedTasks++
		case coordination.TaskFailed:
			record.FailedTasks++
		case coordination.TaskBlocked:
			record.BlockedTasks++
		}
		taskRecords = append(taskRecords, TaskRecord{
			CoordinationID:  session.CoordinationID,
			TaskID:          task.TaskID,
			TaskType:        task.TaskType,
			Status:          string(task.Status),
			AssignedAgentID: task.AssignedAgentID,
			Retries:         task.Retries,
			Result:          task.Result,
			FailureReason:   task.FailureReason,
			CreatedAt:       task.CreatedAt,
			CompletedAt:     task.CompletedAt,
		})
	}

	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		if err := tx.Where("coordination_id = ?", session.CoordinationID).Delete(&SessionRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("coordination_id = ?", session.CoordinationID).Delete(&TaskRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if len(taskRecords) > 0 {
			if err := tx.Create(&taskRecords).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", session.CoordinationID, err)
	}

	s.logger.Info("session archived",
		zap.String("coordination_id", session.CoordinationID),
		zap.String("status", record.Status),
		zap.Int("tasks", len(taskRecords)))
	return nil
}

// Sessions returns the most recently closed sessions, newest first.
func (s *AuditStore) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []SessionRecord
	err := s.pool.DB().WithContext(ctx).
		Order("closed_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Session returns one archived session, or gorm.ErrRecordNotFound.
func (s *AuditStore) Session(ctx context.Context, coordinationID string) (*SessionRecord, error) {
	var record SessionRecord
	err := s.pool.DB().WithContext(ctx).
		Where("coordination_id = ?", coordinationID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Tasks returns the archived tasks of one session.
func (s *AuditStore) Tasks(ctx context.Context, coordinationID string) ([]TaskRecord, error) {
	var records []TaskRecord
	err := s.pool.DB().WithContext(ctx).
		Where("coordination_id = ?", coordinationID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
