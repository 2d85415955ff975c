package download

import (
	"context"

	"github.com/ytget/tver-downloader/internal/model"
)

// Sink receives scheduler events. Calls are made from a single goroutine in
// the order events were produced, never from the control loop itself, so a
// Sink may call back into the Service.
type Sink interface {
	Progress(key string, snapshot model.Snapshot)
	JobFinished(result model.Result)
	QueueChanged(queued, active int)
	AllDone()
}

// Runner executes the blocking stages of a job. Both stages must honour ctx
// and report failures in the returned result.
type Runner interface {
	Download(ctx context.Context, job Job, report func(model.Snapshot)) model.Result
	Convert(ctx context.Context, job Job, downloaded model.Result, report func(model.Snapshot)) model.Result
}
