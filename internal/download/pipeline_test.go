//go:build !windows

package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/tver-downloader/internal/compress"
	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

const failingFFmpeg = "#!/bin/sh\nfor out; do :; done\necho partial > \"$out\"\necho 'Conversion failed!' >&2\nexit 1\n"

func newPipeline() *pipeline {
	logger := hclog.NewNullLogger()
	return &pipeline{worker: NewWorker(logger), converter: compress.NewService(logger)}
}

// remuxJob asks for an mkv container with the original deleted on success
func remuxJob(t *testing.T, tools platform.Tools) Job {
	job := workerJob(t, tools)
	job.Options.ConversionFormat = "mkv"
	job.Options.DeleteOnConversion = true
	return job
}

func TestPipeline_ConversionFailureKeepsDownload(t *testing.T) {
	tools := fakeYTDLP(t, probeOK(episodeJSON), transferOK)
	require.NoError(t, os.WriteFile(tools.FFmpeg, []byte(failingFFmpeg), 0755))
	job := remuxJob(t, tools)

	input := filepath.Join(job.Options.DownloadDir, "ep1.mp4")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0644))
	downloaded := model.Result{
		Key:      job.Key,
		ID:       job.ID,
		State:    model.JobStateDone,
		Path:     input,
		Metadata: model.Metadata{ID: "ep1", Title: "Drama 第1話"},
	}

	var states []model.JobState
	r := newPipeline().Convert(context.Background(), job, downloaded, func(s model.Snapshot) {
		states = append(states, s.State)
	})

	assert.Equal(t, model.JobStateFailed, r.State)
	assert.Equal(t, model.ReasonConversionFailed, r.Reason)
	assert.Contains(t, r.Detail, "Conversion failed!")
	assert.Equal(t, input, r.Path)
	assert.Equal(t, downloaded.Metadata, r.Metadata)
	assert.FileExists(t, input)
	assert.NoFileExists(t, filepath.Join(job.Options.DownloadDir, "ep1.mkv"))
	require.NotEmpty(t, states)
	assert.Equal(t, model.JobStateConverting, states[0])
}

func TestPipeline_ConversionSuccessReplacesPath(t *testing.T) {
	tools := fakeYTDLP(t, probeOK(episodeJSON), transferOK)
	ffmpeg := "#!/bin/sh\nfor out; do :; done\necho converted > \"$out\"\n"
	require.NoError(t, os.WriteFile(tools.FFmpeg, []byte(ffmpeg), 0755))
	job := remuxJob(t, tools)

	input := filepath.Join(job.Options.DownloadDir, "ep1.mp4")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0644))
	downloaded := model.Result{Key: job.Key, ID: job.ID, State: model.JobStateDone, Path: input}

	r := newPipeline().Convert(context.Background(), job, downloaded, nil)

	require.Equal(t, model.JobStateDone, r.State, r.Detail)
	assert.Equal(t, filepath.Join(job.Options.DownloadDir, "ep1.mkv"), r.Path)
	assert.FileExists(t, r.Path)
	assert.NoFileExists(t, input)
}

func TestService_ConversionFailureReported(t *testing.T) {
	tools := fakeYTDLP(t, probeOK(episodeJSON), transferOK)
	require.NoError(t, os.WriteFile(tools.FFmpeg, []byte(failingFFmpeg), 0755))
	opts := remuxJob(t, tools).Options

	sink := newRecordingSink()
	s := NewServiceWithRunner(opts, sink, newPipeline(), hclog.NewNullLogger())
	t.Cleanup(s.Close)
	s.SetToolPaths(tools)

	require.True(t, s.Add(episodeURL))
	require.Eventually(t, func() bool { return sink.allDoneCount() == 1 }, waitFor, tick)

	res, ok := sink.result(episodeURL)
	require.True(t, ok)
	assert.Equal(t, model.JobStateFailed, res.State)
	assert.Equal(t, model.ReasonConversionFailed, res.Reason)
	assert.Equal(t, filepath.Join(opts.DownloadDir, "Drama 2024-01-05 第1話 [ep1].mp4"), res.Path)
	assert.FileExists(t, res.Path)
	assert.Equal(t, "ep1", res.Metadata.ID)
	assert.Contains(t, sink.states(episodeURL), model.JobStateConverting)
}
