package miner

import "context"

// ExtractTask asks for the content metadata of one file.
type ExtractTask struct {
	ResourceID  string
	Path        string
	MIME        string
	Fingerprint string
}

// ExtractResult is delivered once per submitted task group.
type ExtractResult struct {
	Task ExtractTask
	Set  *StatementSet
	Err  error
}

// Extractor produces a statement set for one file. Implementations must
// honour ctx cancellation; the dispatcher enforces the deadline regardless.
type Extractor interface {
	Extract(ctx context.Context, task ExtractTask) (*StatementSet, error)
}

// Dispatcher runs extractions on a bounded worker pool.
type Dispatcher interface {
	// Submit queues a task without blocking. It returns true when the task
	// merged into one already queued or running for the same resource, in
	// which case no additional result will be delivered.
	Submit(task ExtractTask) (merged bool)

	// Cancel discards queued work for the resource and cancels running
	// work. No result is delivered for cancelled work.
	Cancel(resourceID string)

	// Retarget points queued or future runs for the resource at a new path.
	Retarget(resourceID, path string)

	// Results delivers finished extractions.
	Results() <-chan ExtractResult
}

// Writer serializes properties back into a file.
type Writer interface {
	Write(ctx context.Context, path string, properties []Property) error
}
