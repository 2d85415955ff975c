package download

import (
	"context"

	"github.com/ytget/tver-downloader/internal/compress"
	"github.com/ytget/tver-downloader/internal/model"
)

// pipeline is the production Runner: the download worker followed by the
// conversion service
type pipeline struct {
	worker    *Worker
	converter compress.Converter
}

func (p *pipeline) Download(ctx context.Context, job Job, report func(model.Snapshot)) model.Result {
	return p.worker.Run(ctx, job, report)
}

func (p *pipeline) Convert(ctx context.Context, job Job, downloaded model.Result, report func(model.Snapshot)) model.Result {
	if report == nil {
		report = func(model.Snapshot) {}
	}
	snap := model.Snapshot{
		Key:        job.Key,
		ID:         job.ID,
		State:      model.JobStateConverting,
		Metadata:   downloaded.Metadata,
		OutputPath: downloaded.Path,
	}
	req := compress.Request{Input: downloaded.Path, Options: job.Options, Tools: job.Tools}

	outcome := p.converter.Convert(ctx, req, func(percent float64, phase string) {
		snap.Progress = model.Progress{Percent: percent, Phase: phase}
		report(snap)
	})

	switch {
	case outcome.Cancelled:
		return model.Cancelled(job.Key, job.ID)
	case outcome.Err != nil:
		r := model.Failed(job.Key, job.ID, model.ReasonConversionFailed, outcome.Err.Error())
		r.Path = downloaded.Path
		r.Metadata = downloaded.Metadata
		return r
	}

	r := downloaded
	r.Path = outcome.Path
	return r
}
