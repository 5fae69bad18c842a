package jobs

import (
	"database/sql"
	"fmt"

	"gliderdac/internal/config"
	"gliderdac/internal/dac"
)

// NewQueueFromConfig creates a Queue based on the jobs config type.
// db is the record database and is required for type "sqlite".
func NewQueueFromConfig(cfg config.JobsConfig, db *sql.DB, clock dac.Clock) (*Queue, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryQueue(clock), nil
	case "sqlite", "":
		if db == nil {
			return nil, fmt.Errorf("sqlite job queue requires a database connection")
		}
		return NewSQLiteQueue(db, clock), nil
	default:
		return nil, fmt.Errorf("unknown job queue type: %s", cfg.Type)
	}
}
