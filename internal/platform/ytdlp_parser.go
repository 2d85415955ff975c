package platform

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/tver-downloader/internal/model"
)

// Phase names reported for post-transfer assembly
const (
	PhaseMerging   = "Merging formats"
	PhaseEmbedding = "Embedding subtitles"
)

// yt-dlp output markers. The tool prints these tokens in English regardless
// of the system locale.
var (
	reProgress    = regexp.MustCompile(`^\[download\]\s+([0-9]+(?:\.[0-9]+)?)%`)
	reRate        = regexp.MustCompile(`\bat\s+(\S+/s)`)
	reETA         = regexp.MustCompile(`\bETA\s+(\S+)`)
	reDestination = regexp.MustCompile(`^\[download\]\s+Destination:\s+(.+)$`)
	reExisting    = regexp.MustCompile(`^\[download\]\s+(.+?)\s+has already been downloaded`)
	reMerger      = regexp.MustCompile(`^\[Merger\]\s+Merging formats into\s+"(.+)"`)
	reEmbedSubs   = regexp.MustCompile(`^\[EmbedSubtitle\]`)
	reSubtitles   = regexp.MustCompile(`^\[info\]\s+Writing video subtitles to:\s+(.+)$`)
	reFormats     = regexp.MustCompile(`^\[info\]\s+[^:]+:\s+Downloading\s+(\d+)\s+format\(s\):\s+(\S+)`)
	reError       = regexp.MustCompile(`^(ERROR:|\[error\])`)
	reWarning     = regexp.MustCompile(`^WARNING:`)
)

// SubtitleExtensions are side files that are never media components
var SubtitleExtensions = []string{".vtt", ".srt", ".ass", ".ttml", ".srv3", ".json3"}

// ParseLine turns one line of transfer output into at most one event.
// Unrecognized non-empty lines become info log events; the parser never fails.
func ParseLine(line string) (model.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	if m := reProgress.FindStringSubmatch(line); m != nil {
		percent, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			ev := model.ProgressEvent{Percent: clampPercent(percent)}
			if r := reRate.FindStringSubmatch(line); r != nil {
				ev.Speed = r[1]
			}
			if e := reETA.FindStringSubmatch(line); e != nil {
				ev.ETA = e[1]
			}
			return ev, true
		}
	}

	if m := reDestination.FindStringSubmatch(line); m != nil {
		path := strings.TrimSpace(m[1])
		return model.DestinationEvent{Path: path, Subtitle: IsSubtitlePath(path)}, true
	}
	if m := reExisting.FindStringSubmatch(line); m != nil {
		path := strings.TrimSpace(m[1])
		return model.DestinationEvent{Path: path, Subtitle: IsSubtitlePath(path), Existing: true}, true
	}
	if m := reSubtitles.FindStringSubmatch(line); m != nil {
		return model.DestinationEvent{Path: strings.TrimSpace(m[1]), Subtitle: true}, true
	}
	if m := reMerger.FindStringSubmatch(line); m != nil {
		return model.PhaseEvent{State: model.JobStateMerging, Phase: PhaseMerging, Path: m[1]}, true
	}
	if reEmbedSubs.MatchString(line) {
		return model.PhaseEvent{State: model.JobStateMerging, Phase: PhaseEmbedding}, true
	}
	if m := reFormats.FindStringSubmatch(line); m != nil {
		return model.FormatsEvent{Formats: splitFormats(m[1], m[2])}, true
	}

	switch {
	case reError.MatchString(line):
		return model.LogEvent{Level: model.LogError, Line: line}, true
	case reWarning.MatchString(line):
		return model.LogEvent{Level: model.LogWarn, Line: line}, true
	}
	return model.LogEvent{Level: model.LogInfo, Line: line}, true
}

// IsSubtitlePath reports whether path names a subtitle side file
func IsSubtitlePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SubtitleExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

func splitFormats(count, list string) []string {
	formats := strings.Split(list, "+")
	n, err := strconv.Atoi(count)
	if err == nil && n > len(formats) {
		// "Downloading 2 format(s): best" style lines name fewer ids than streams
		for len(formats) < n {
			formats = append(formats, "")
		}
	}
	return formats
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
