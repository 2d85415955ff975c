package platform

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Default executable names looked up on PATH
const (
	YTDLPCommand   = "yt-dlp"
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"
)

// Tools holds the resolved paths of the external executables
type Tools struct {
	YTDLP   string
	FFmpeg  string
	FFprobe string
}

// Ready reports whether the transfer and transcoder executables are known
func (t Tools) Ready() bool {
	return t.YTDLP != "" && t.FFmpeg != ""
}

// FFmpegDir returns the directory holding ffmpeg, passed to yt-dlp so it uses
// the same build for merging
func (t Tools) FFmpegDir() string {
	if t.FFmpeg == "" {
		return ""
	}
	return filepath.Dir(t.FFmpeg)
}

// ResolveTools resolves configured paths, falling back to PATH lookups.
// ffprobe is looked up next to ffmpeg first; a missing ffprobe is not an
// error since only the codec probe depends on it.
func ResolveTools(ytdlpPath, ffmpegPath string) (Tools, error) {
	var tools Tools
	var err error

	if tools.YTDLP, err = resolve(ytdlpPath, YTDLPCommand); err != nil {
		return tools, err
	}
	if tools.FFmpeg, err = resolve(ffmpegPath, FFmpegCommand); err != nil {
		return tools, err
	}
	tools.FFprobe = DeriveFFprobePath(tools.FFmpeg)
	return tools, nil
}

// DeriveFFprobePath returns the ffprobe sitting next to ffmpeg, or the one on
// PATH, or "" when neither exists
func DeriveFFprobePath(ffmpegPath string) string {
	if ffmpegPath != "" {
		dir := filepath.Dir(ffmpegPath)
		ext := filepath.Ext(ffmpegPath)
		base := strings.TrimSuffix(filepath.Base(ffmpegPath), ext)
		sibling := filepath.Join(dir, strings.Replace(base, FFmpegCommand, FFprobeCommand, 1)+ext)
		if sibling != ffmpegPath && FileExists(sibling) {
			return sibling
		}
	}
	if path, err := exec.LookPath(FFprobeCommand); err == nil {
		return path
	}
	return ""
}

func resolve(configured, name string) (string, error) {
	if configured != "" {
		if FileExists(configured) {
			return configured, nil
		}
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", errors.Wrapf(err, "%s not found at %s", name, configured)
		}
		return path, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.Wrapf(err, "%s not found on PATH", name)
	}
	return path, nil
}
