package download

import (
	"fmt"
	"slices"

	"github.com/ytget/tver-downloader/internal/model"
)

// Sub-phase names
const (
	PhaseProbing      = "Fetching metadata"
	PhaseTransferring = "Downloading"
	PhaseSubtitles    = "Downloading subtitles"
	PhaseSubtitleSRT  = "Converting subtitles"
)

// tracker is the worker-private progress state of one job. Every change is
// published as a snapshot copy.
type tracker struct {
	snap       model.Snapshot
	components componentProgress
	subtitles  []string
	onSubtitle bool // the current destination is a subtitle side file
	lastError  string
	report     func(model.Snapshot)
}

func newTracker(job Job, report func(model.Snapshot)) *tracker {
	if report == nil {
		report = func(model.Snapshot) {}
	}
	return &tracker{
		snap:   model.Snapshot{Key: job.Key, ID: job.ID, State: model.JobStateQueued},
		report: report,
	}
}

func (t *tracker) publish() {
	t.report(t.snap)
}

// enter moves to state when the lifecycle allows it
func (t *tracker) enter(state model.JobState, phase string) {
	if state != t.snap.State {
		if !t.snap.State.CanTransition(state) {
			return
		}
		t.snap.State = state
	}
	t.snap.Progress.Phase = phase
	t.publish()
}

func (t *tracker) apply(ev model.Event) {
	switch e := ev.(type) {
	case model.ProgressEvent:
		if t.snap.State != model.JobStateTransferring || t.onSubtitle {
			return
		}
		component, of := t.components.position()
		t.snap.Progress = model.Progress{
			Percent:   t.components.remap(e.Percent),
			Speed:     e.Speed,
			ETA:       e.ETA,
			Phase:     t.componentPhase(component, of),
			Component: component,
			Of:        of,
		}

	case model.DestinationEvent:
		t.onSubtitle = e.Subtitle
		if e.Subtitle {
			if !slices.Contains(t.subtitles, e.Path) {
				t.subtitles = append(t.subtitles, e.Path)
			}
			t.snap.Progress.Phase = PhaseSubtitles
			break
		}
		t.components.destination(e.Path)
		if t.snap.OutputPath == "" {
			t.snap.OutputPath = e.Path
		}
		if e.Existing {
			t.snap.Progress.Percent = t.components.remap(100)
		}
		component, of := t.components.position()
		t.snap.Progress.Component, t.snap.Progress.Of = component, of
		t.snap.Progress.Phase = t.componentPhase(component, of)

	case model.FormatsEvent:
		t.components.announce(len(e.Formats))
		t.snap.Progress.Of = t.components.total

	case model.PhaseEvent:
		if e.State != t.snap.State && !t.snap.State.CanTransition(e.State) {
			return
		}
		t.snap.State = e.State
		t.snap.Progress.Phase = e.Phase
		t.snap.Progress.Speed = ""
		t.snap.Progress.ETA = ""

	case model.LogEvent:
		t.snap.LastLog = e.Line
		if e.Level == model.LogError {
			t.lastError = e.Line
		}

	case model.MetadataEvent:
		t.snap.Metadata = e.Metadata

	default:
		return
	}
	t.publish()
}

func (t *tracker) componentPhase(component, of int) string {
	if of <= 1 || component == 0 {
		return PhaseTransferring
	}
	return fmt.Sprintf("%s %s (%d/%d)", PhaseTransferring, t.components.current, component, of)
}

// failureDetail picks the most useful line to explain a failed transfer
func (t *tracker) failureDetail(exitCode int) string {
	switch {
	case t.lastError != "":
		return t.lastError
	case t.snap.LastLog != "":
		return t.snap.LastLog
	default:
		return fmt.Sprintf("exit status %d", exitCode)
	}
}

