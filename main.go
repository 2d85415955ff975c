package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"fyne.io/fyne/v2/app"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/download"
	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

const (
	AppID   = "com.ytget.tver-downloader"
	AppName = "tver-downloader"
)

// runFlags are the root command flags. Only flags given on the command line
// override the saved settings.
type runFlags struct {
	dir      string
	parallel int
	level    string
	ytdlp    string
	ffmpeg   string
	save     bool

	quality        string
	template       string
	limit          string
	subs           bool
	embedSubs      bool
	subFormat      string
	subLangs       string
	convert        string
	codec          string
	encoder        string
	crf            config.QualityPolicy
	deleteOriginal bool
	postAction     string

	changed func(name string) bool
}

func (f runFlags) set(name string) bool {
	return f.changed != nil && f.changed(name)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f runFlags
	root := &cobra.Command{
		Use:          AppName + " [URL...]",
		Short:        "Download TVer episodes with yt-dlp and ffmpeg",
		Long:         "Queues every URL given as an argument (or one per line on stdin) and runs them with bounded concurrency.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.changed = cmd.Flags().Changed
			return run(f, args)
		},
	}
	defaults := config.DefaultOptions()
	root.Flags().StringVarP(&f.dir, "dir", "d", "", "download directory (default: saved setting)")
	root.Flags().IntVarP(&f.parallel, "parallel", "p", 0, "concurrent jobs, 1-5 (default: saved setting)")
	root.PersistentFlags().StringVar(&f.level, "log-level", "info", "log level: trace, debug, info, warn, error")
	root.Flags().StringVar(&f.ytdlp, "ytdlp", "", "path to yt-dlp (default: saved setting or PATH)")
	root.Flags().StringVar(&f.ffmpeg, "ffmpeg", "", "path to ffmpeg (default: saved setting or PATH)")
	root.Flags().StringVarP(&f.quality, "quality", "f", defaults.Quality, "yt-dlp format selector")
	root.Flags().StringVarP(&f.template, "template", "o", defaults.FilenameTemplate, "output filename template")
	root.Flags().StringVarP(&f.limit, "limit", "r", defaults.BandwidthLimit, "bandwidth limit per job (e.g. 5M), 0 for none")
	root.Flags().BoolVar(&f.subs, "subs", defaults.Subtitles.Download, "download subtitles")
	root.Flags().BoolVar(&f.embedSubs, "embed-subs", defaults.Subtitles.Embed, "embed subtitles into the video")
	root.Flags().StringVar(&f.subFormat, "sub-format", defaults.Subtitles.Format, "side file subtitle format: vtt or srt")
	root.Flags().StringVar(&f.subLangs, "sub-langs", defaults.Subtitles.Langs, "subtitle languages")
	root.Flags().StringVar(&f.convert, "convert", defaults.ConversionFormat, "container to convert finished files to, none to keep")
	root.Flags().StringVar(&f.codec, "codec", defaults.PreferredCodec, "preferred video codec: avc, hevc, vp9, av1 or none")
	root.Flags().StringVar(&f.encoder, "encoder", defaults.HardwareEncoder, "encoder family: cpu, nvidia, intel, amd")
	root.Flags().IntVar(&f.crf.H264CRF, "crf-h264", defaults.QualityParams.H264CRF, "CRF for H.264 software encoding")
	root.Flags().IntVar(&f.crf.H265CRF, "crf-h265", defaults.QualityParams.H265CRF, "CRF for H.265 software encoding")
	root.Flags().IntVar(&f.crf.VP9CRF, "crf-vp9", defaults.QualityParams.VP9CRF, "CRF for VP9 software encoding")
	root.Flags().IntVar(&f.crf.AV1CRF, "crf-av1", defaults.QualityParams.AV1CRF, "CRF for AV1 software encoding")
	root.Flags().IntVar(&f.crf.GPUCQ, "gpu-cq", defaults.QualityParams.GPUCQ, "constant quality for hardware encoders")
	root.Flags().BoolVar(&f.deleteOriginal, "delete-original", defaults.DeleteOnConversion, "delete the download after a successful remux")
	root.Flags().StringVar(&f.postAction, "post-action", defaults.PostAction, "action when all jobs are done: none or open_folder")
	root.Flags().BoolVar(&f.save, "save", false, "store the given flags as the new defaults")

	root.AddCommand(newConfigCmd())
	return root
}

// newConfigCmd prints the effective saved settings
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the saved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.NewSettings(app.NewWithID(AppID)).Options()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "download_directory:     %s\n", opts.DownloadDir)
			fmt.Fprintf(out, "max_parallel_downloads: %d\n", opts.MaxParallel)
			fmt.Fprintf(out, "quality_format:         %s\n", opts.Quality)
			fmt.Fprintf(out, "filename_template:      %s\n", opts.FilenameTemplate)
			fmt.Fprintf(out, "bandwidth_limit:        %s\n", opts.BandwidthLimit)
			fmt.Fprintf(out, "subtitles:              %+v\n", opts.Subtitles)
			fmt.Fprintf(out, "conversion_format:      %s\n", opts.ConversionFormat)
			fmt.Fprintf(out, "preferred_codec:        %s\n", opts.PreferredCodec)
			fmt.Fprintf(out, "hardware_encoder:       %s\n", opts.HardwareEncoder)
			fmt.Fprintf(out, "delete_on_conversion:   %t\n", opts.DeleteOnConversion)
			fmt.Fprintf(out, "post_action:            %s\n", opts.PostAction)
			fmt.Fprintf(out, "ytdlp_path:             %s\n", opts.YTDLPPath)
			fmt.Fprintf(out, "ffmpeg_path:            %s\n", opts.FFmpegPath)
			return nil
		},
	}
}

func run(f runFlags, args []string) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  AppName,
		Level: hclog.LevelFromString(f.level),
	})
	logger.Info("starting", "version", version)

	settings := config.NewSettings(app.NewWithID(AppID))
	var opts config.Options
	if f.save {
		saveFlags(settings, f)
		opts = settings.Options()
	} else {
		opts = applyFlags(settings.Options(), f)
	}

	if err := platform.CreateDirectoryIfNotExists(opts.DownloadDir); err != nil {
		return errors.Wrapf(err, "failed to ensure downloads dir %s", opts.DownloadDir)
	}

	tools, err := platform.ResolveTools(opts.YTDLPPath, opts.FFmpegPath)
	if err != nil {
		return errors.Wrap(err, "required tools are missing")
	}

	urls := readURLs(args)
	if len(urls) == 0 {
		return errors.New("no URLs given")
	}

	sink := newLogSink(logger)
	svc := download.NewService(opts, sink, logger)
	for _, u := range urls {
		if !svc.Add(u) {
			sink.reject(u)
		}
	}
	svc.SetToolPaths(tools)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queued, active := svc.Counts()
	if queued+active > 0 {
		select {
		case <-sink.done:
		case <-ctx.Done():
			logger.Info("interrupted, stopping jobs")
		}
	}
	svc.Close()

	interrupted := ctx.Err() != nil
	if opts.PostAction == config.PostActionOpenFolder && !interrupted {
		if err := platform.RevealFolder(opts.DownloadDir); err != nil {
			logger.Warn("cannot open download folder", "error", err)
		}
	}
	return sink.summary(len(urls), interrupted)
}

// applyFlags overrides opts with the flags given on the command line
func applyFlags(opts config.Options, f runFlags) config.Options {
	if f.set("dir") {
		opts.DownloadDir = f.dir
	}
	if f.set("parallel") {
		opts.MaxParallel = config.ClampParallel(f.parallel)
	}
	if f.set("ytdlp") {
		opts.YTDLPPath = f.ytdlp
	}
	if f.set("ffmpeg") {
		opts.FFmpegPath = f.ffmpeg
	}
	if f.set("quality") && strings.TrimSpace(f.quality) != "" {
		opts.Quality = f.quality
	}
	if f.set("template") && f.template != "" {
		opts.FilenameTemplate = f.template
	}
	if f.set("limit") && strings.TrimSpace(f.limit) != "" {
		opts.BandwidthLimit = strings.TrimSpace(f.limit)
	}
	opts.Subtitles = subtitleFlags(opts.Subtitles, f)
	if f.set("convert") {
		opts.ConversionFormat = strings.ToLower(f.convert)
	}
	if f.set("codec") {
		opts.PreferredCodec = strings.ToLower(f.codec)
	}
	if f.set("encoder") {
		opts.HardwareEncoder = f.encoder
	}
	opts.QualityParams = qualityFlags(opts.QualityParams, f)
	if f.set("delete-original") {
		opts.DeleteOnConversion = f.deleteOriginal
	}
	if f.set("post-action") {
		opts.PostAction = f.postAction
	}
	return opts
}

// saveFlags stores the flags given on the command line as the new defaults
func saveFlags(settings *config.Settings, f runFlags) {
	if f.set("dir") {
		settings.SetDownloadDirectory(f.dir)
	}
	if f.set("parallel") {
		settings.SetMaxParallelDownloads(f.parallel)
	}
	if f.set("ytdlp") || f.set("ffmpeg") {
		ytdlp, ffmpeg := settings.GetToolPaths()
		if f.set("ytdlp") {
			ytdlp = f.ytdlp
		}
		if f.set("ffmpeg") {
			ffmpeg = f.ffmpeg
		}
		settings.SetToolPaths(ytdlp, ffmpeg)
	}
	if f.set("quality") {
		settings.SetQualityFormat(f.quality)
	}
	if f.set("template") {
		settings.SetFilenameTemplate(f.template)
	}
	if f.set("limit") {
		settings.SetBandwidthLimit(f.limit)
	}
	settings.SetSubtitlePolicy(subtitleFlags(settings.GetSubtitlePolicy(), f))
	if f.set("convert") {
		settings.SetConversionFormat(f.convert)
	}
	if f.set("codec") {
		settings.SetPreferredCodec(f.codec)
	}
	if f.set("encoder") {
		settings.SetHardwareEncoder(f.encoder)
	}
	settings.SetQualityPolicy(qualityFlags(settings.GetQualityPolicy(), f))
	if f.set("delete-original") {
		settings.SetDeleteOnConversion(f.deleteOriginal)
	}
	if f.set("post-action") {
		settings.SetPostAction(f.postAction)
	}
}

func subtitleFlags(p config.SubtitlePolicy, f runFlags) config.SubtitlePolicy {
	if f.set("subs") {
		p.Download = f.subs
	}
	if f.set("embed-subs") {
		p.Embed = f.embedSubs
	}
	if f.set("sub-format") && f.subFormat != "" {
		p.Format = f.subFormat
	}
	if f.set("sub-langs") && f.subLangs != "" {
		p.Langs = f.subLangs
	}
	return p
}

func qualityFlags(q config.QualityPolicy, f runFlags) config.QualityPolicy {
	if f.set("crf-h264") {
		q.H264CRF = f.crf.H264CRF
	}
	if f.set("crf-h265") {
		q.H265CRF = f.crf.H265CRF
	}
	if f.set("crf-vp9") {
		q.VP9CRF = f.crf.VP9CRF
	}
	if f.set("crf-av1") {
		q.AV1CRF = f.crf.AV1CRF
	}
	if f.set("gpu-cq") {
		q.GPUCQ = f.crf.GPUCQ
	}
	return q
}

// readURLs returns the arguments, or the non-empty lines of stdin when there
// are none
func readURLs(args []string) []string {
	if len(args) > 0 {
		return args
	}
	var urls []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls
}

// logSink reports scheduler events through the logger
type logSink struct {
	logger hclog.Logger
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	results  []model.Result
	rejected []string
	lastMark map[string]string
}

func newLogSink(logger hclog.Logger) *logSink {
	return &logSink{
		logger:   logger.Named("jobs"),
		done:     make(chan struct{}),
		lastMark: make(map[string]string),
	}
}

func (s *logSink) Progress(key string, snap model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// one line per state and 10% step
	mark := fmt.Sprintf("%s/%d", snap.State, int(snap.Progress.Percent)/10)
	if s.lastMark[key] == mark {
		return
	}
	s.lastMark[key] = mark
	s.logger.Info("progress", "title", snap.DisplayTitle(), "state", snap.State,
		"percent", fmt.Sprintf("%.1f", snap.Progress.Percent), "speed", snap.Progress.Speed,
		"eta", snap.Progress.ETA, "phase", snap.Progress.Phase)
}

func (s *logSink) JobFinished(r model.Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	delete(s.lastMark, r.Key)
	s.mu.Unlock()

	if r.Success() {
		s.logger.Info("finished", "key", r.Key, "path", r.Path)
		return
	}
	s.logger.Error("not completed", "key", r.Key, "state", r.State, "reason", r.Reason, "detail", r.Detail)
}

func (s *logSink) QueueChanged(queued, active int) {
	s.logger.Debug("queue", "queued", queued, "active", active)
}

func (s *logSink) AllDone() {
	s.once.Do(func() { close(s.done) })
}

// reject records a request the scheduler did not accept
func (s *logSink) reject(url string) {
	s.mu.Lock()
	s.rejected = append(s.rejected, url)
	s.mu.Unlock()
	s.logger.Warn("request not accepted", "url", url)
}

// summary logs the totals and returns an error unless every one of the
// requested URLs finished successfully
func (s *logSink) summary(requested int, interrupted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	succeeded := 0
	for _, r := range s.results {
		if r.Success() {
			succeeded++
		}
	}
	failed := len(s.results) - succeeded
	s.logger.Info("summary", "requested", requested, "succeeded", succeeded,
		"failed", failed, "rejected", len(s.rejected), "interrupted", interrupted)

	if interrupted {
		return errors.Errorf("interrupted: %d of %d request(s) completed", succeeded, requested)
	}
	if missing := requested - succeeded; missing > 0 {
		return errors.Errorf("%d of %d request(s) did not complete (%d failed, %d rejected)",
			missing, requested, failed, len(s.rejected))
	}
	return nil
}
