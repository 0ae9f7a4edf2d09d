package gormjournal

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// SessionRow is one run of the tick loop.
type SessionRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	StartTime time.Time
	EndTime   sql.NullTime
	Manifest  string `gorm:"size:255"`
	Markers   int
}

func (SessionRow) TableName() string { return "sessions" }

// EventRow is one lifecycle event. Anchor and Footprint are WKT in the
// camera ground plane (x, z) so they read the same on SQLite and Postgres.
type EventRow struct {
	ID          uint      `gorm:"primarykey"`
	SessionID   string    `gorm:"index;size:36"`
	Time        time.Time `gorm:"index"`
	Frame       uint64
	Identity    string `gorm:"index;size:255"`
	ConfigIndex int
	Kind        string `gorm:"index;size:32"`
	Pose        datatypes.JSON
	ExtentX     float32
	ExtentZ     float32
	Anchor      string
	Footprint   string
	Detail      string
}

func (EventRow) TableName() string { return "lifecycle_events" }

// Models lists every table the journal migrates.
var Models = []any{&SessionRow{}, &EventRow{}}
