package model

import (
	"database/sql"
	"time"
)

// Event levels
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Event categories
const (
	EventCategoryRepublish = "republish"
	EventCategoryHomepage  = "homepage"
	EventCategoryScheduler = "scheduler"
	EventCategoryConfig    = "config"
	EventCategorySystem    = "system"
)

// Event represents an operator-visible event log entry.
type Event struct {
	ID        int64         `db:"id"`
	Level     string        `db:"level"`
	Category  string        `db:"category"`
	Message   string        `db:"message"`
	UserID    sql.NullInt64 `db:"user_id"`
	Metadata  string        `db:"metadata"` // JSON string
	CreatedAt time.Time     `db:"created_at"`
}
