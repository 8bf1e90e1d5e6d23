package model

import "time"

// CanaryStatus is the lifecycle state of a traffic ramp.
type CanaryStatus string

const (
	CanaryRamping   CanaryStatus = "RAMPING"
	CanaryPaused    CanaryStatus = "PAUSED"
	CanaryAborted   CanaryStatus = "ABORTED"
	CanaryCompleted CanaryStatus = "COMPLETED"
)

// MaxCanaryWeight is the full share of live traffic.
const MaxCanaryWeight = 100

// CanaryState tracks the traffic ramp toward a newly deployed slot. One live
// instance exists per environment; each promotion attempt starts fresh.
type CanaryState struct {
	Environment   string
	CurrentWeight int
	StepSize      int
	StepInterval  time.Duration
	Status        CanaryStatus
	StartedAt     time.Time
}
