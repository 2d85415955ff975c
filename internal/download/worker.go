package download

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

// Worker timeouts
const (
	DefaultProbeTimeout    = 20 * time.Second
	DefaultSubtitleTimeout = 15 * time.Second
)

// Job is everything a worker needs to run one request. Options and Tools are
// copies taken when the job left the queue.
type Job struct {
	Key     string
	ID      string
	Options config.Options
	Tools   platform.Tools
}

// Worker runs the download stage of a job: probe, name, transfer, verify
type Worker struct {
	logger          hclog.Logger
	probeTimeout    time.Duration
	subtitleTimeout time.Duration
	stopGrace       time.Duration
}

// NewWorker creates a download worker
func NewWorker(logger hclog.Logger) *Worker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Worker{
		logger:          logger.Named("download"),
		probeTimeout:    DefaultProbeTimeout,
		subtitleTimeout: DefaultSubtitleTimeout,
		stopGrace:       platform.DefaultStopGrace,
	}
}

// Run executes the download stage and returns its terminal result. Failures
// are reported in the result, never as errors. report receives a snapshot
// after every observable change, in order.
func (w *Worker) Run(ctx context.Context, job Job, report func(model.Snapshot)) model.Result {
	logger := w.logger.With("key", job.Key, "job_id", job.ID)
	t := newTracker(job, report)

	t.enter(model.JobStateProbing, PhaseProbing)
	md, err := w.probe(ctx, job, logger)
	if err != nil {
		if ctx.Err() != nil {
			return model.Cancelled(job.Key, job.ID)
		}
		logger.Error("metadata probe failed", "error", err)
		return model.Failed(job.Key, job.ID, model.ReasonProbeFailed, err.Error())
	}
	t.apply(model.MetadataEvent{Metadata: md})

	path, truncated := ResolveOutputPath(job.Options.DownloadDir, job.Options.FilenameTemplate, md)
	t.snap.OutputPath = path
	if truncated {
		logger.Warn("output path too long, title shortened", "path", path)
		t.apply(model.LogEvent{
			Level:  model.LogWarn,
			Line:   "path too long, file name shortened: " + filepath.Base(path),
			Notice: model.NoticePathTooLong,
		})
	}

	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(path)); err != nil {
		logger.Error("cannot create output directory", "error", err)
		return w.failed(job, md, path, errors.Wrap(err, "create output directory").Error())
	}
	if ctx.Err() != nil {
		return model.Cancelled(job.Key, job.ID)
	}

	cmd := platform.Command{
		Path: job.Tools.YTDLP,
		Args: TransferArgs(job.Key, path, job.Options, job.Tools),
		Dir:  filepath.Dir(path),
	}
	proc, err := platform.Start(cmd, logger)
	if err != nil {
		logger.Error("cannot start transfer", "error", err)
		return w.failed(job, md, path, err.Error())
	}
	logger.Info("transfer started", "pid", proc.PID(), "path", path)
	t.enter(model.JobStateTransferring, PhaseTransferring)

	cancelled := proc.Stream(ctx, w.stopGrace, func(line string) {
		logger.Trace(line)
		if ev, ok := platform.ParseLine(line); ok {
			t.apply(ev)
		}
	})
	if cancelled {
		logger.Info("transfer cancelled")
		return model.Cancelled(job.Key, job.ID)
	}

	if code := proc.ExitCode(); code != 0 {
		detail := t.failureDetail(code)
		logger.Error("transfer failed", "code", code, "detail", detail)
		return w.failed(job, md, path, detail)
	}
	if !platform.FileExists(path) {
		logger.Error("transfer exited cleanly but output is missing", "path", path)
		return w.failed(job, md, path, "output file not found: "+path)
	}

	if WantsSRT(job.Options) {
		t.snap.Progress.Phase = PhaseSubtitleSRT
		t.publish()
		w.convertSubtitles(ctx, job, path, t.subtitles, logger)
	}

	logger.Info("download finished", "path", path)
	return model.Result{
		Key:      job.Key,
		ID:       job.ID,
		State:    model.JobStateDone,
		Path:     path,
		Metadata: md,
	}
}

func (w *Worker) probe(ctx context.Context, job Job, logger hclog.Logger) (model.Metadata, error) {
	cmd := platform.Command{Path: job.Tools.YTDLP, Args: ProbeArgs(job.Key, job.Options, job.Tools)}
	out, err := platform.Capture(ctx, cmd, w.probeTimeout, logger)
	if err != nil {
		return model.Metadata{}, errors.Wrap(err, "metadata probe")
	}
	md, err := model.ParseMetadata(out)
	if err != nil {
		return model.Metadata{}, errors.Wrap(err, "metadata probe returned unparsable data")
	}
	return md, nil
}

func (w *Worker) failed(job Job, md model.Metadata, path, detail string) model.Result {
	r := model.Failed(job.Key, job.ID, model.ReasonTransferFailed, detail)
	r.Metadata = md
	r.Path = path
	return r
}

// convertSubtitles turns the downloaded VTT side files into SRT. Failures are
// logged and leave the VTT in place.
func (w *Worker) convertSubtitles(ctx context.Context, job Job, mediaPath string, announced []string, logger hclog.Logger) {
	for _, vtt := range subtitleFiles(mediaPath, announced) {
		srt := strings.TrimSuffix(vtt, filepath.Ext(vtt)) + ".srt"
		cmd := platform.Command{Path: job.Tools.FFmpeg, Args: []string{"-y", "-i", vtt, srt}}
		if _, err := platform.Capture(ctx, cmd, w.subtitleTimeout, logger); err != nil {
			logger.Warn("subtitle conversion failed", "file", vtt, "error", err)
			continue
		}
		if err := platform.RemoveIfExists(vtt); err != nil {
			logger.Warn("cannot remove converted subtitle", "error", err)
		}
	}
}

// subtitleFiles lists the VTT files belonging to mediaPath: the ones the
// transfer announced plus "<stem>.<lang>.vtt" siblings on disk.
func subtitleFiles(mediaPath string, announced []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] && strings.EqualFold(filepath.Ext(p), ".vtt") && platform.FileExists(p) {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range announced {
		add(p)
	}

	dir := filepath.Dir(mediaPath)
	stem := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, stem+".") {
			add(filepath.Join(dir, name))
		}
	}
	return out
}
