package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// DecisionTraceRecord is one immutable audit entry for a workflow transition.
// The ordered set of traces for a quote forms its complete justification block.
type DecisionTraceRecord struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	QuoteID  uuid.UUID `gorm:"column:quote_id;type:uuid;not null;index"`
	Sequence int       `gorm:"column:sequence;not null"`

	State         enums.WorkflowState `gorm:"column:state;type:workflow_state_enum;not null"`
	Summary       string              `gorm:"column:summary;not null"`
	Justification string              `gorm:"column:justification;not null;default:''"`
	DataSources   pq.StringArray      `gorm:"column:data_sources;type:text[];default:ARRAY[]::text[]"`
	Alerts        pq.StringArray      `gorm:"column:alerts;type:text[];default:ARRAY[]::text[]"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName maps the record to its migration-managed table.
func (DecisionTraceRecord) TableName() string {
	return "decision_traces"
}
