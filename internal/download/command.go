package download

import (
	"strconv"
	"strings"

	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/platform"
)

// Transfer tool flags
const (
	RetryCount           = 10
	MergeOutputFormat    = "mp4"
	AcceptLanguageHeader = "Accept-Language:ja-JP"
	SubtitleSourceFormat = "vtt"
)

// ProbeArgs builds the metadata probe command line. It uses the same format
// selector, merge container and ffmpeg as the transfer so the probed ext
// matches the file that will be written.
func ProbeArgs(url string, opts config.Options, tools platform.Tools) []string {
	args := []string{}
	if dir := tools.FFmpegDir(); dir != "" {
		args = append(args, "--ffmpeg-location", dir)
	}
	return append(args,
		"-J",
		"--no-warnings",
		"--no-playlist",
		"--no-check-certificate",
		"--add-header", AcceptLanguageHeader,
		"-f", quality(opts),
		"--merge-output-format", MergeOutputFormat,
		url,
	)
}

// TransferArgs builds the transfer command line for one job
func TransferArgs(url, outputPath string, opts config.Options, tools platform.Tools) []string {
	args := []string{}
	if dir := tools.FFmpegDir(); dir != "" {
		args = append(args, "--ffmpeg-location", dir)
	}
	args = append(args,
		"-o", EscapeOutputTemplate(outputPath),
		"--retries", strconv.Itoa(RetryCount),
		"--fragment-retries", strconv.Itoa(RetryCount),
		"--force-overwrites",
		"--no-keep-fragments",
		"--no-check-certificate",
		"--windows-filenames",
		"--no-cache-dir",
		"--abort-on-error",
		"--no-playlist",
		"--add-header", AcceptLanguageHeader,
		"--progress",
		"--encoding", "utf-8",
		"--newline",
		"-f", quality(opts),
		"--merge-output-format", MergeOutputFormat,
	)

	subs := opts.Subtitles
	if subs.Download {
		langs := subs.Langs
		if langs == "" {
			langs = config.DefaultSubtitleLangs
		}
		args = append(args, "--write-subs", "--sub-langs", langs)
		if subs.Embed {
			args = append(args, "--embed-subs")
		} else {
			// srt is produced from the vtt after the transfer
			args = append(args, "--sub-format", SubtitleSourceFormat)
		}
	} else {
		args = append(args, "--no-write-subs")
	}

	if limit := strings.TrimSpace(opts.BandwidthLimit); limit != "" && limit != "0" {
		args = append(args, "-r", limit)
	}

	return append(args, url)
}

// WantsSRT reports whether downloaded subtitles must be converted to SRT
func WantsSRT(opts config.Options) bool {
	s := opts.Subtitles
	return s.Download && !s.Embed && strings.EqualFold(s.Format, "srt")
}

func quality(opts config.Options) string {
	if q := strings.TrimSpace(opts.Quality); q != "" {
		return q
	}
	return config.DefaultQuality
}
