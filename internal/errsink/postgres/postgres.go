// Package postgres is a gorm/PostgreSQL-backed errsink.Sink, grounded
// on the teacher's job_run domain type and repository
// (internal/domain/jobs/job_run.go, internal/data/repos/jobs/job_run.go):
// a plain struct tagged for gorm, a thin repo wrapping *gorm.DB, and
// best-effort writes that log rather than propagate.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/pkg/logger"
	"github.com/runnerkv/runner/internal/platform/dbctx"
)

// ErrorRecord is the persisted shape of one RecordExc call.
type ErrorRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Kind      string    `gorm:"column:kind;not null;index" json:"kind"`
	JobPath   string    `gorm:"column:job_path;not null;index" json:"job_path"`
	Message   string    `gorm:"column:message" json:"message"`
	Comment   string    `gorm:"column:comment" json:"comment,omitempty"`
	Data      []byte    `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ErrorRecord) TableName() string { return "runner_error_record" }

type Sink struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ errsink.Sink = (*Sink)(nil)

func New(db *gorm.DB, baseLog *logger.Logger) *Sink {
	return &Sink{db: db, log: baseLog.With("component", "PostgresErrorSink")}
}

// Migrate creates/updates the runner_error_record table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ErrorRecord{})
}

func (s *Sink) RecordExc(ctx context.Context, kind errsink.Kind, path string, exc error, data map[string]any, comment string) {
	rec := ErrorRecord{
		ID:        uuid.New(),
		Kind:      string(kind),
		JobPath:   path,
		Comment:   comment,
		CreatedAt: time.Now(),
	}
	if exc != nil {
		rec.Message = exc.Error()
	}
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			rec.Data = b
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	tx := dbc.Tx
	if tx == nil {
		tx = s.db
	}
	// Best-effort: the error sink must never fail the runner
	// (spec.md §6 "never raises into the runner").
	if err := tx.WithContext(ctx).Create(&rec).Error; err != nil {
		s.log.Warn("failed to persist error record", "kind", kind, "job_path", path, "error", err)
	}
}
