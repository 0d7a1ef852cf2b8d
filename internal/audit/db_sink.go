package audit

import (
	"context"

	"ec-checkout/internal/domain/model"
	repo "ec-checkout/internal/repository"
)

// audit_logsテーブルへの書き込み
type DBSink struct {
	logs repo.AuditLogRepository
}

func NewDBSink(logs repo.AuditLogRepository) *DBSink {
	return &DBSink{logs: logs}
}

func (s *DBSink) Name() string { return "db" }

func (s *DBSink) Write(ctx context.Context, entry model.AuditLog) error {
	return s.logs.Create(ctx, entry)
}
