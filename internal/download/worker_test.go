//go:build !windows

package download

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

const episodeJSON = `{"id":"ep1","title":"Drama 第1話","series":"Drama","upload_date":"20240105","ext":"mp4"}`

// fakeYTDLP writes a yt-dlp stand-in. The probe prints probe; the transfer
// finds the -o argument, exposes it as $out and runs transfer.
func fakeYTDLP(t *testing.T, probe, transfer string) platform.Tools {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"for arg; do\n" +
		"  if [ \"$arg\" = \"-J\" ]; then\n" + probe + "\n  fi\n" +
		"done\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"-o\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		transfer
	path := filepath.Join(dir, "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return platform.Tools{YTDLP: path, FFmpeg: filepath.Join(dir, "ffmpeg")}
}

func probeOK(json string) string {
	return "echo '" + json + "'\nexit 0"
}

const transferOK = `echo "[info] ep1: Downloading 1 format(s): 0"
echo "[download] Destination: $out"
echo "[download]  50.0% of 10.00MiB at 1.00MiB/s ETA 00:05"
echo data > "$out"
echo "[download] 100% of 10.00MiB"
`

func workerJob(t *testing.T, tools platform.Tools) Job {
	opts := config.DefaultOptions()
	opts.DownloadDir = t.TempDir()
	opts.Subtitles = config.SubtitlePolicy{}
	opts.ConversionFormat = config.FormatNone
	return Job{Key: episodeURL, ID: "job-1", Options: opts, Tools: tools}
}

type snapshotLog struct {
	mu    sync.Mutex
	snaps []model.Snapshot
}

func (l *snapshotLog) report(s model.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) all() []model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Snapshot(nil), l.snaps...)
}

func (l *snapshotLog) reached(state model.JobState) bool {
	for _, s := range l.all() {
		if s.State == state {
			return true
		}
	}
	return false
}

func TestWorker_Success(t *testing.T) {
	tools := fakeYTDLP(t, probeOK(episodeJSON), transferOK)
	job := workerJob(t, tools)
	var log snapshotLog

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), job, log.report)

	require.Equal(t, model.JobStateDone, r.State, r.Detail)
	assert.Equal(t, filepath.Join(job.Options.DownloadDir, "Drama 2024-01-05 第1話 [ep1].mp4"), r.Path)
	assert.FileExists(t, r.Path)
	assert.Equal(t, "ep1", r.Metadata.ID)

	snaps := log.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, model.JobStateProbing, snaps[0].State)
	assert.True(t, log.reached(model.JobStateTransferring))

	last := snaps[len(snaps)-1]
	assert.InDelta(t, 100, last.Progress.Percent, 0.001)
	assert.Equal(t, r.Path, last.OutputPath)

	var sawSpeed bool
	for _, s := range snaps {
		if s.Progress.Speed == "1.00MiB/s" {
			sawSpeed = true
			assert.InDelta(t, 50, s.Progress.Percent, 0.001)
			assert.Equal(t, "00:05", s.Progress.ETA)
		}
	}
	assert.True(t, sawSpeed)
}

func TestWorker_TransferFailure(t *testing.T) {
	transfer := `echo "[download] Destination: $out"
echo "ERROR: [tver] ep1: This video is not available" >&2
echo "[info] cleaning up"
exit 1
`
	tools := fakeYTDLP(t, probeOK(episodeJSON), transfer)

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), nil)

	assert.Equal(t, model.JobStateFailed, r.State)
	assert.Equal(t, model.ReasonTransferFailed, r.Reason)
	assert.Equal(t, "ERROR: [tver] ep1: This video is not available", r.Detail)
	assert.Equal(t, "ep1", r.Metadata.ID)
}

func TestWorker_ProbeFailure(t *testing.T) {
	probe := "echo 'ERROR: Unsupported URL' >&2\nexit 1"
	tools := fakeYTDLP(t, probe, "echo should not run > /dev/null\n")
	var log snapshotLog

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), log.report)

	assert.Equal(t, model.JobStateFailed, r.State)
	assert.Equal(t, model.ReasonProbeFailed, r.Reason)
	assert.Contains(t, r.Detail, "Unsupported URL")
	assert.False(t, log.reached(model.JobStateTransferring))
}

func TestWorker_ProbeUnparsable(t *testing.T) {
	tools := fakeYTDLP(t, probeOK(`{"formats":[]}`), transferOK)

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), nil)

	assert.Equal(t, model.JobStateFailed, r.State)
	assert.Equal(t, model.ReasonProbeFailed, r.Reason)
}

func TestWorker_MissingOutput(t *testing.T) {
	transfer := `echo "[download] Destination: $out"
echo "[download] 100% of 10.00MiB"
exit 0
`
	tools := fakeYTDLP(t, probeOK(episodeJSON), transfer)

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), nil)

	assert.Equal(t, model.JobStateFailed, r.State)
	assert.Equal(t, model.ReasonTransferFailed, r.Reason)
	assert.Contains(t, r.Detail, "output file not found")
}

func TestWorker_Cancel(t *testing.T) {
	transfer := `trap '' TERM
echo "[download] Destination: $out"
while true; do sleep 0.1; done
`
	tools := fakeYTDLP(t, probeOK(episodeJSON), transfer)
	var log snapshotLog

	w := NewWorker(hclog.NewNullLogger())
	w.stopGrace = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan model.Result, 1)
	go func() {
		results <- w.Run(ctx, workerJob(t, tools), log.report)
	}()

	require.Eventually(t, func() bool { return log.reached(model.JobStateTransferring) }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case r := <-results:
		assert.Equal(t, model.JobStateCancelled, r.State)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorker_PathTooLong(t *testing.T) {
	long := `{"id":"ep1","title":"` + strings.Repeat("a", 300) + `","ext":"mp4"}`
	tools := fakeYTDLP(t, probeOK(long), transferOK)
	var log snapshotLog

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), log.report)

	require.Equal(t, model.JobStateDone, r.State, r.Detail)
	assert.LessOrEqual(t, len([]rune(r.Path)), MaxPathLength)

	var noticed bool
	for _, s := range log.all() {
		if strings.HasPrefix(s.LastLog, "path too long") {
			noticed = true
		}
	}
	assert.True(t, noticed)
}

func TestWorker_SubtitlesToSRT(t *testing.T) {
	transfer := `stem="${out%.mp4}"
echo "[info] Writing video subtitles to: $stem.ja.vtt"
echo WEBVTT > "$stem.ja.vtt"
echo "[download] Destination: $out"
echo data > "$out"
`
	tools := fakeYTDLP(t, probeOK(episodeJSON), transfer)
	ffmpeg := "#!/bin/sh\nfor out; do :; done\necho srt > \"$out\"\n"
	require.NoError(t, os.WriteFile(tools.FFmpeg, []byte(ffmpeg), 0755))

	job := workerJob(t, tools)
	job.Options.Subtitles = config.SubtitlePolicy{Download: true, Format: "srt", Langs: "ja"}

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), job, nil)

	require.Equal(t, model.JobStateDone, r.State, r.Detail)
	stem := strings.TrimSuffix(r.Path, ".mp4")
	assert.FileExists(t, stem+".ja.srt")
	assert.NoFileExists(t, stem+".ja.vtt")
}

func TestWorker_SubtitleProgressDoesNotFillBar(t *testing.T) {
	transfer := `stem="${out%.mp4}"
echo "[info] ep1: Downloading 1 format(s): hls-5000"
echo "[info] Writing video subtitles to: $stem.ja.vtt"
echo "[download] Destination: $stem.ja.vtt"
echo "[download] 100% of 1.23KiB in 00:00:00 at 10.00KiB/s"
echo "[download] Destination: $out"
echo "[download]  30.0% of ~300.00MiB at 2.00MiB/s ETA 01:40"
echo data > "$out"
`
	tools := fakeYTDLP(t, probeOK(episodeJSON), transfer)
	var log snapshotLog

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), log.report)

	require.Equal(t, model.JobStateDone, r.State, r.Detail)
	var media *model.Snapshot
	for _, s := range log.all() {
		if s.Progress.Speed == "10.00KiB/s" {
			t.Fatalf("subtitle progress leaked into the job bar: %+v", s.Progress)
		}
		if s.Progress.Speed == "2.00MiB/s" {
			snap := s
			media = &snap
		}
	}
	require.NotNil(t, media)
	assert.InDelta(t, 30, media.Progress.Percent, 0.001)
}

func TestWorker_ProbeUsesFFmpegLocation(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "probe.args")
	probe := "echo \"$*\" > '" + argsFile + "'\n" + probeOK(episodeJSON)
	tools := fakeYTDLP(t, probe, transferOK)

	r := NewWorker(hclog.NewNullLogger()).Run(context.Background(), workerJob(t, tools), nil)

	require.Equal(t, model.JobStateDone, r.State, r.Detail)
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--ffmpeg-location "+tools.FFmpegDir())
}
