// Package launcher defines the WorkerLauncher boundary the controller
// calls through to spawn workers, plus a Docker-backed adapter. Worker
// spawning and sandboxing are out of scope for the core (spec §1); this
// package specifies only the interface the controller needs and one
// concrete implementation, grounded on the teacher's DockerService.
package launcher

import "context"

// LaunchReason records why tryLaunch was invoked, for logging and metrics.
type LaunchReason string

const (
	// RequestQueueExpand is issued from DefaultController.onRequestQueueing.
	RequestQueueExpand LaunchReason = "RequestQueueExpand"
	// AutoScaleExpand is issued from the regular (non-reservation) half of autoScale.
	AutoScaleExpand LaunchReason = "AutoScaleExpand"
	// ReservationExpand is issued to backfill a broker below its reservation floor.
	ReservationExpand LaunchReason = "ReservationExpand"
)

// Inspect carries debugger/inspector launch options.
type Inspect struct {
	Enabled     bool
	DebuggerTag string
}

// WorkerMetadata describes the worker to launch (spec §4.4.1 step 3).
type WorkerMetadata struct {
	FunctionName string
	Inspect      Inspect
	Disposable   bool
	ToReserve    bool
}

// WorkerLauncher spawns and stops worker processes. The core depends only
// on this interface (spec §1's out-of-scope "worker-process spawning and
// sandboxing").
type WorkerLauncher interface {
	TryLaunch(ctx context.Context, reason LaunchReason, metadata WorkerMetadata) (credential string, err error)
	StopWorker(ctx context.Context, credential string) error
}
