package compress

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/platform"
)

// FFmpeg constants for conversion
const (
	// Remux and audio extraction
	StreamCopy     = "copy"
	AudioContainer = "mp3"
	MP3Codec       = "libmp3lame"
	MP3Quality     = "2"

	// Container flags
	FastStartFlag = "+faststart"

	// Encoder presets
	NvencPreset  = "p5"
	QSVPreset    = "medium"
	X26xPreset   = "medium"
	SVTAV1Preset = "8"

	// Executable and I/O constants
	FFprobeLogLevel     = "error"
	FFprobeShowDuration = "format=duration"
	FFprobeShowCodec    = "stream=codec_name"
	FFprobeVideoStream  = "v:0"
	FFprobeCSVFormat    = "csv=p=0"
	FFprobePlainFormat  = "default=noprint_wrappers=1:nokey=1"
	ProgressPipeTarget  = "pipe:1"
	ProgressTimePrefix  = "out_time_us="
	OutputExtensionMP4  = ".mp4"

	DefaultProbeTimeout = 10 * time.Second
)

// ffmpeg -progress emits key=value lines; they are not useful as failure detail
var reProgressKey = regexp.MustCompile(`^[a-z0-9_]+=\S*$`)

// Request describes one finished download to convert
type Request struct {
	Input   string
	Options config.Options
	Tools   platform.Tools
}

// Outcome is the result of Convert. Path is the file the job ends with: the
// converted file on success, the untouched input otherwise.
type Outcome struct {
	Plan      Plan
	Path      string
	Err       error
	Cancelled bool
}

// Service handles post-download conversion
type Service struct {
	logger       hclog.Logger
	probeTimeout time.Duration
	stopGrace    time.Duration
}

// NewService creates a new conversion service
func NewService(logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		logger:       logger.Named("compress"),
		probeTimeout: DefaultProbeTimeout,
		stopGrace:    platform.DefaultStopGrace,
	}
}

// Plan decides what conversion a finished download needs. A configured
// container that differs from the current one always wins; otherwise the
// video codec is probed and compared to the preferred codec. A failed probe
// means no conversion.
func (s *Service) Plan(ctx context.Context, req Request) Plan {
	if container := containerTarget(req.Input, req.Options); container != "" {
		return remuxPlan(req.Input, container, req.Options)
	}

	target := TargetCodec(req.Options.PreferredCodec)
	if target == "" {
		return Plan{Kind: PlanNone, Input: req.Input, Output: req.Input}
	}
	if req.Tools.FFprobe == "" {
		s.logger.Warn("ffprobe not available, skipping codec check", "file", req.Input)
		return Plan{Kind: PlanNone, Input: req.Input, Output: req.Input}
	}

	source, err := s.probeCodec(ctx, req.Tools, req.Input)
	if err != nil {
		s.logger.Warn("codec probe failed, keeping file as is", "file", req.Input, "error", err)
		return Plan{Kind: PlanNone, Input: req.Input, Output: req.Input}
	}
	if source == "" || source == target {
		return Plan{Kind: PlanNone, Input: req.Input, Output: req.Input, SourceCodec: source, TargetCodec: target}
	}
	return reencodePlan(req.Input, source, target, req.Options)
}

// Convert plans and runs the conversion. On failure the partial output is
// removed and the input is never touched. On success the input is deleted
// when the plan says so (always for re-encodes).
func (s *Service) Convert(ctx context.Context, req Request, report func(percent float64, phase string)) Outcome {
	if report == nil {
		report = func(float64, string) {}
	}
	logger := s.logger.With("file", req.Input)

	plan := s.Plan(ctx, req)
	if ctx.Err() != nil {
		return Outcome{Plan: plan, Path: req.Input, Cancelled: true}
	}
	if plan.Kind == PlanNone {
		logger.Debug("no conversion needed", "codec", plan.SourceCodec)
		return Outcome{Plan: plan, Path: req.Input}
	}
	logger.Info("conversion started", "kind", plan.Kind, "output", plan.Output, "encoder", plan.Encoder)

	duration, err := s.getVideoDuration(ctx, req.Tools, plan.Input)
	if err != nil {
		logger.Debug("duration unknown, progress disabled", "error", err)
	}
	report(0, plan.Phase())

	proc, err := platform.Start(platform.Command{Path: req.Tools.FFmpeg, Args: BuildFFmpegArgs(plan)}, logger)
	if err != nil {
		return Outcome{Plan: plan, Path: req.Input, Err: errors.Wrap(err, "start ffmpeg")}
	}

	var lastLine string
	cancelled := proc.Stream(ctx, s.stopGrace, func(line string) {
		line = strings.TrimSpace(line)
		if percent, ok := parseProgress(line, duration); ok {
			report(percent, plan.Phase())
			return
		}
		if line != "" && !reProgressKey.MatchString(line) {
			lastLine = line
		}
	})

	if cancelled {
		s.removePartial(plan.Output, logger)
		logger.Info("conversion cancelled")
		return Outcome{Plan: plan, Path: req.Input, Cancelled: true}
	}
	if code := proc.ExitCode(); code != 0 {
		s.removePartial(plan.Output, logger)
		err := &platform.ExitError{Code: code, Tail: lastLine}
		logger.Error("conversion failed", "error", err)
		return Outcome{Plan: plan, Path: req.Input, Err: errors.Wrap(err, "ffmpeg")}
	}
	if !platform.FileExists(plan.Output) {
		logger.Error("ffmpeg exited cleanly but output is missing", "output", plan.Output)
		return Outcome{Plan: plan, Path: req.Input, Err: errors.Errorf("output file not found: %s", plan.Output)}
	}

	if plan.DeleteOriginal {
		if err := platform.RemoveIfExists(plan.Input); err != nil {
			logger.Warn("cannot delete original after conversion", "error", err)
		}
	}
	report(100, plan.Phase())
	logger.Info("conversion finished", "output", plan.Output)
	return Outcome{Plan: plan, Path: plan.Output}
}

// BuildFFmpegArgs builds the ffmpeg command arguments for a plan
func BuildFFmpegArgs(p Plan) []string {
	args := []string{"-y"} // Overwrite output file
	if p.Kind == PlanReencode && p.Hardware == config.EncoderIntel {
		args = append(args, "-hwaccel", "auto")
	}
	args = append(args, "-i", p.Input)

	switch p.Kind {
	case PlanRemux:
		if p.Container == AudioContainer {
			args = append(args, "-vn", "-c:a", MP3Codec, "-q:a", MP3Quality)
		} else {
			args = append(args, "-c", StreamCopy)
		}
	case PlanReencode:
		args = append(args, "-c:v", p.Encoder)
		args = append(args, qualityArgs(p)...)
		args = append(args, "-c:a", StreamCopy)
		args = append(args, "-movflags", FastStartFlag)
	}

	return append(args,
		"-progress", ProgressPipeTarget,
		"-nostats",
		p.Output,
	)
}

func qualityArgs(p Plan) []string {
	q := strconv.Itoa(p.Quality)
	switch p.Hardware {
	case config.EncoderNvidia:
		return []string{"-cq", q, "-preset", NvencPreset}
	case config.EncoderIntel:
		return []string{"-global_quality", q, "-preset", QSVPreset}
	case config.EncoderAMD:
		return []string{"-rc", "cqp", "-qp_i", q, "-qp_p", q, "-qp_b", q}
	}
	switch p.Encoder {
	case "libsvtav1":
		return []string{"-crf", q, "-preset", SVTAV1Preset}
	case "libvpx-vp9":
		return []string{"-crf", q, "-b:v", "0"}
	}
	return []string{"-crf", q, "-preset", X26xPreset}
}

// probeCodec returns the codec name of the first video stream
func (s *Service) probeCodec(ctx context.Context, tools platform.Tools, path string) (string, error) {
	args := []string{
		"-v", FFprobeLogLevel,
		"-select_streams", FFprobeVideoStream,
		"-show_entries", FFprobeShowCodec,
		"-of", FFprobePlainFormat,
		path,
	}
	out, err := platform.Capture(ctx, platform.Command{Path: tools.FFprobe, Args: args}, s.probeTimeout, s.logger)
	if err != nil {
		return "", errors.Wrap(err, "ffprobe codec")
	}
	return strings.ToLower(strings.TrimSpace(string(out))), nil
}

// getVideoDuration gets the duration of a media file in seconds
func (s *Service) getVideoDuration(ctx context.Context, tools platform.Tools, path string) (float64, error) {
	if tools.FFprobe == "" {
		return 0, errors.New("ffprobe not available")
	}
	args := []string{"-v", FFprobeLogLevel, "-show_entries", FFprobeShowDuration, "-of", FFprobeCSVFormat, path}
	out, err := platform.Capture(ctx, platform.Command{Path: tools.FFprobe, Args: args}, s.probeTimeout, s.logger)
	if err != nil {
		return 0, errors.Wrap(err, "ffprobe duration")
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse duration")
	}
	return duration, nil
}

// parseProgress reads an out_time_us=123456 line
func parseProgress(line string, totalDuration float64) (float64, bool) {
	if !strings.HasPrefix(line, ProgressTimePrefix) || totalDuration <= 0 {
		return 0, false
	}
	micros, err := strconv.ParseInt(strings.TrimPrefix(line, ProgressTimePrefix), 10, 64)
	if err != nil {
		return 0, false
	}

	percent := float64(micros) / 1e6 / totalDuration * 100
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return percent, true
}

func (s *Service) removePartial(path string, logger hclog.Logger) {
	if err := platform.RemoveIfExists(path); err != nil {
		logger.Warn("cannot remove partial output", "error", err)
	}
}
