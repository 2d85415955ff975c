package main

import (
	"testing"

	"fyne.io/fyne/v2/test"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/model"
)

// given marks names as set on the command line
func given(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func done(key string) model.Result {
	return model.Result{Key: key, ID: "id-" + key, State: model.JobStateDone, Path: "/dl/" + key + ".mp4"}
}

func TestLogSink_SummaryAllSucceeded(t *testing.T) {
	sink := newLogSink(hclog.NewNullLogger())
	sink.JobFinished(done("a"))
	sink.JobFinished(done("b"))

	assert.NoError(t, sink.summary(2, false))
}

func TestLogSink_SummaryCountsRejectedRequests(t *testing.T) {
	sink := newLogSink(hclog.NewNullLogger())
	sink.JobFinished(done("a"))
	sink.reject("https://tver.jp/episodes/a")

	err := sink.summary(2, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, err.Error(), "1 rejected")
}

func TestLogSink_SummaryCountsFailures(t *testing.T) {
	sink := newLogSink(hclog.NewNullLogger())
	sink.JobFinished(done("a"))
	sink.JobFinished(model.Failed("b", "id-b", model.ReasonTransferFailed, "HTTP Error 403"))

	err := sink.summary(2, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed")
}

func TestLogSink_SummaryInterrupted(t *testing.T) {
	sink := newLogSink(hclog.NewNullLogger())
	// the other two were dropped on shutdown and never reported
	sink.JobFinished(done("a"))

	err := sink.summary(3, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Contains(t, err.Error(), "1 of 3")
}

func TestLogSink_AllDoneClosesOnce(t *testing.T) {
	sink := newLogSink(hclog.NewNullLogger())
	sink.AllDone()
	sink.AllDone()

	select {
	case <-sink.done:
	default:
		t.Fatal("done should be closed")
	}
}

func TestApplyFlags_OnlyGivenFlagsOverride(t *testing.T) {
	saved := config.DefaultOptions()
	saved.DownloadDir = "/saved"

	f := runFlags{
		dir:            "/ignored",
		quality:        "best",
		convert:        "MKV",
		subs:           false,
		deleteOriginal: true,
		crf:            config.QualityPolicy{H265CRF: 20},
		changed:        given("quality", "convert", "subs", "delete-original", "crf-h265"),
	}
	opts := applyFlags(saved, f)

	assert.Equal(t, "/saved", opts.DownloadDir)
	assert.Equal(t, "best", opts.Quality)
	assert.Equal(t, "mkv", opts.ConversionFormat)
	assert.False(t, opts.Subtitles.Download)
	assert.Equal(t, saved.Subtitles.Embed, opts.Subtitles.Embed)
	assert.True(t, opts.DeleteOnConversion)
	assert.Equal(t, 20, opts.QualityParams.H265CRF)
	assert.Equal(t, saved.QualityParams.H264CRF, opts.QualityParams.H264CRF)
	assert.Equal(t, saved.FilenameTemplate, opts.FilenameTemplate)
}

func TestApplyFlags_ClampsParallel(t *testing.T) {
	opts := applyFlags(config.DefaultOptions(), runFlags{parallel: 9, changed: given("parallel")})
	assert.Equal(t, config.MaxParallel, opts.MaxParallel)
}

func TestSaveFlags_StoresEverySetting(t *testing.T) {
	settings := config.NewSettings(test.NewApp())

	f := runFlags{
		dir:            "/videos",
		parallel:       2,
		ffmpeg:         "/opt/ffmpeg",
		quality:        "bv*[height<=720]+ba/b",
		template:       "%(title)s.%(ext)s",
		limit:          " 5M ",
		subs:           true,
		embedSubs:      false,
		subFormat:      "srt",
		subLangs:       "ja,en",
		convert:        "MP4",
		codec:          "HEVC",
		encoder:        config.EncoderNvidia,
		crf:            config.QualityPolicy{AV1CRF: 35, GPUCQ: 24},
		deleteOriginal: true,
		postAction:     config.PostActionOpenFolder,
		changed: given("dir", "parallel", "ffmpeg", "quality", "template", "limit", "subs",
			"embed-subs", "sub-format", "sub-langs", "convert", "codec", "encoder",
			"crf-av1", "gpu-cq", "delete-original", "post-action"),
	}
	saveFlags(settings, f)
	opts := settings.Options()

	assert.Equal(t, "/videos", opts.DownloadDir)
	assert.Equal(t, 2, opts.MaxParallel)
	assert.Equal(t, "", opts.YTDLPPath)
	assert.Equal(t, "/opt/ffmpeg", opts.FFmpegPath)
	assert.Equal(t, "bv*[height<=720]+ba/b", opts.Quality)
	assert.Equal(t, "%(title)s.%(ext)s", opts.FilenameTemplate)
	assert.Equal(t, "5M", opts.BandwidthLimit)
	assert.Equal(t, config.SubtitlePolicy{Download: true, Embed: false, Format: "srt", Langs: "ja,en"}, opts.Subtitles)
	assert.Equal(t, "mp4", opts.ConversionFormat)
	assert.Equal(t, "hevc", opts.PreferredCodec)
	assert.Equal(t, config.EncoderNvidia, opts.HardwareEncoder)
	assert.Equal(t, config.QualityPolicy{
		H264CRF: config.DefaultH264CRF,
		H265CRF: config.DefaultH265CRF,
		VP9CRF:  config.DefaultVP9CRF,
		AV1CRF:  35,
		GPUCQ:   24,
	}, opts.QualityParams)
	assert.True(t, opts.DeleteOnConversion)
	assert.Equal(t, config.PostActionOpenFolder, opts.PostAction)
}

func TestSaveFlags_UnknownEncoderFallsBack(t *testing.T) {
	settings := config.NewSettings(test.NewApp())
	saveFlags(settings, runFlags{encoder: "voodoo", changed: given("encoder")})
	assert.Equal(t, config.DefaultHardwareEncoder, settings.GetHardwareEncoder())
}

func TestRootCmd_RegistersSettingFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"quality", "template", "limit", "subs", "embed-subs", "sub-format",
		"sub-langs", "convert", "codec", "encoder", "crf-h264", "crf-h265", "crf-vp9", "crf-av1",
		"gpu-cq", "delete-original", "post-action", "save"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}
