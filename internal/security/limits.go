package security

import "time"

// Limits bounds the engine's memory and I/O behavior.
type Limits struct {
	MaxWindowSamples  int
	MaxWindowAge      time.Duration
	MaxWindowMinutes  int
	MaxBatchSize      int
	DispatchQueueSize int
	DispatchTimeout   time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxWindowSamples:  1000,
		MaxWindowAge:      0,
		MaxWindowMinutes:  1440,
		MaxBatchSize:      500,
		DispatchQueueSize: 128,
		DispatchTimeout:   5 * time.Second,
	}
}
