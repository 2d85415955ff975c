package download

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

func TestComponentProgress_TwoStreams(t *testing.T) {
	var c componentProgress
	c.announce(2)

	c.destination("/dl/ep.f299.mp4")
	assert.Equal(t, ComponentVideo, c.current)
	assert.InDelta(t, 25, c.remap(50), 0.001)
	assert.InDelta(t, 50, c.remap(100), 0.001)

	c.destination("/dl/ep.f140.m4a")
	assert.Equal(t, ComponentAudio, c.current)
	assert.InDelta(t, 50, c.remap(0), 0.001)
	assert.InDelta(t, 75, c.remap(50), 0.001)

	component, of := c.position()
	assert.Equal(t, 2, component)
	assert.Equal(t, 2, of)
}

func TestComponentProgress_Monotonic(t *testing.T) {
	var c componentProgress
	c.destination("/dl/ep.mp4")

	assert.InDelta(t, 40, c.remap(40), 0.001)
	assert.InDelta(t, 40, c.remap(10), 0.001, "a retry must not move the bar back")
	assert.InDelta(t, 100, c.remap(120), 0.001)
}

func TestComponentProgress_RepeatedDestination(t *testing.T) {
	var c componentProgress
	c.announce(2)
	c.destination("/dl/ep.f1.mp4")
	c.destination("/dl/ep.f1.mp4")

	component, _ := c.position()
	assert.Equal(t, 1, component)
}

func TestTracker_Transfer(t *testing.T) {
	var snaps []model.Snapshot
	tr := newTracker(Job{Key: episodeURL, ID: "job-1"}, func(s model.Snapshot) { snaps = append(snaps, s) })

	tr.apply(model.ProgressEvent{Percent: 30})
	assert.Empty(t, snaps, "progress before the transfer is ignored")

	tr.enter(model.JobStateProbing, PhaseProbing)
	tr.enter(model.JobStateTransferring, PhaseTransferring)
	tr.apply(model.FormatsEvent{Formats: []string{"299", "140"}})
	tr.apply(model.DestinationEvent{Path: "/dl/ep.f299.mp4"})
	tr.apply(model.ProgressEvent{Percent: 50, Speed: "1.0MiB/s", ETA: "00:10"})

	last := snaps[len(snaps)-1]
	assert.Equal(t, model.JobStateTransferring, last.State)
	assert.InDelta(t, 25, last.Progress.Percent, 0.001)
	assert.Equal(t, "1.0MiB/s", last.Progress.Speed)
	assert.Equal(t, "Downloading video (1/2)", last.Progress.Phase)

	tr.apply(model.DestinationEvent{Path: "/dl/ep.en.vtt", Subtitle: true})
	assert.Equal(t, []string{"/dl/ep.en.vtt"}, tr.subtitles)

	tr.apply(model.LogEvent{Level: model.LogError, Line: "ERROR: HTTP Error 403"})
	tr.apply(model.LogEvent{Level: model.LogInfo, Line: "[info] retrying"})
	assert.Equal(t, "ERROR: HTTP Error 403", tr.failureDetail(1))

	tr.apply(model.PhaseEvent{State: model.JobStateMerging, Phase: "Merging formats"})
	assert.Equal(t, model.JobStateMerging, tr.snap.State)

	tr.apply(model.PhaseEvent{State: model.JobStateTransferring, Phase: "backwards"})
	assert.Equal(t, model.JobStateMerging, tr.snap.State, "lifecycle never moves backwards")
}

func TestTracker_FailureDetailFallback(t *testing.T) {
	tr := newTracker(Job{Key: episodeURL}, nil)
	assert.Equal(t, "exit status 2", tr.failureDetail(2))

	tr.apply(model.LogEvent{Level: model.LogInfo, Line: "last words"})
	assert.Equal(t, "last words", tr.failureDetail(2))
}

func TestTracker_SubtitleProgressIgnored(t *testing.T) {
	tr := newTracker(Job{Key: episodeURL, ID: "job-1"}, nil)
	tr.enter(model.JobStateProbing, PhaseProbing)
	tr.enter(model.JobStateTransferring, PhaseTransferring)

	lines := []string{
		"[info] ep1: Downloading 1 format(s): hls-5000",
		"[info] Writing video subtitles to: /dl/ep.ja.vtt",
		"[download] Destination: /dl/ep.ja.vtt",
		"[download] 100% of 1.23KiB in 00:00:00 at 10.00KiB/s",
		"[download] Destination: /dl/ep.mp4",
		"[download]  30.0% of ~300.00MiB at 2.00MiB/s ETA 01:40",
	}
	for _, line := range lines {
		if ev, ok := platform.ParseLine(line); ok {
			tr.apply(ev)
		}
	}

	assert.InDelta(t, 30, tr.snap.Progress.Percent, 0.001)
	assert.Equal(t, "2.00MiB/s", tr.snap.Progress.Speed)
	assert.Equal(t, []string{"/dl/ep.ja.vtt"}, tr.subtitles)
}
