package dac

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the created and updated stamps of deployments and the
// enqueue and run times of jobs.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC, the zone deployment.json and the
// job table are written in.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator assigns the id of a deployment record on its first save.
type IDGenerator interface {
	New() string
}

// UUIDGenerator assigns random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
