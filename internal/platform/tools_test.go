package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolsReady(t *testing.T) {
	assert.False(t, Tools{}.Ready())
	assert.False(t, Tools{YTDLP: "/bin/yt-dlp"}.Ready())
	assert.True(t, Tools{YTDLP: "/bin/yt-dlp", FFmpeg: "/opt/ff/ffmpeg"}.Ready())
	assert.Equal(t, "/opt/ff", Tools{FFmpeg: "/opt/ff/ffmpeg"}.FFmpegDir())
	assert.Equal(t, "", Tools{}.FFmpegDir())
}

func TestResolveTools_ExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	ytdlp := filepath.Join(dir, "yt-dlp")
	ffmpeg := filepath.Join(dir, "ffmpeg")
	ffprobe := filepath.Join(dir, "ffprobe")
	for _, p := range []string{ytdlp, ffmpeg, ffprobe} {
		require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0755))
	}

	tools, err := ResolveTools(ytdlp, ffmpeg)
	require.NoError(t, err)
	assert.Equal(t, ytdlp, tools.YTDLP)
	assert.Equal(t, ffmpeg, tools.FFmpeg)
	assert.Equal(t, ffprobe, tools.FFprobe)
}

func TestResolveTools_Missing(t *testing.T) {
	_, err := ResolveTools(filepath.Join(t.TempDir(), "nope", "yt-dlp"), "")
	assert.Error(t, err)
}
