package config

import (
	"path/filepath"
	"strings"

	"fyne.io/fyne/v2"
	"github.com/ytget/tver-downloader/internal/platform"
)

// Settings keys for Fyne preferences
const (
	KeyDownloadDir        = "download_directory"
	KeyMaxParallel        = "max_parallel_downloads"
	KeyQualityFormat      = "quality_format"
	KeyFilenameTemplate   = "filename_template"
	KeyBandwidthLimit     = "bandwidth_limit"
	KeyDownloadSubtitles  = "download_subtitles"
	KeyEmbedSubtitles     = "embed_subtitles"
	KeySubtitleFormat     = "subtitle_format"
	KeySubtitleLangs      = "subtitle_langs"
	KeyConversionFormat   = "conversion_format"
	KeyPreferredCodec     = "preferred_codec"
	KeyHardwareEncoder    = "hardware_encoder"
	KeyH264CRF            = "quality_cpu_h264_crf"
	KeyH265CRF            = "quality_cpu_h265_crf"
	KeyVP9CRF             = "quality_cpu_vp9_crf"
	KeyAV1CRF             = "quality_cpu_av1_crf"
	KeyGPUCQ              = "quality_gpu_cq"
	KeyDeleteOnConversion = "delete_on_conversion"
	KeyPostAction         = "post_action"
	KeyYTDLPPath          = "ytdlp_path"
	KeyFFmpegPath         = "ffmpeg_path"
)

// Default values
const (
	DefaultDownloadSubdir     = "TVer"
	DefaultMaxParallel        = 3
	DefaultQuality            = "bv*+ba/b"
	DefaultFilenameTemplate   = "%(series,playlist_title)s %(upload_date>%Y-%m-%d)s %(title)s [%(id)s].%(ext)s"
	DefaultBandwidthLimit     = "0"
	DefaultDownloadSubtitles  = true
	DefaultEmbedSubtitles     = true
	DefaultSubtitleFormat     = "vtt"
	DefaultSubtitleLangs      = "ja"
	DefaultConversionFormat   = FormatNone
	DefaultPreferredCodec     = "avc"
	DefaultHardwareEncoder    = EncoderCPU
	DefaultH264CRF            = 26
	DefaultH265CRF            = 31
	DefaultVP9CRF             = 36
	DefaultAV1CRF             = 41
	DefaultGPUCQ              = 30
	DefaultDeleteOnConversion = false
	DefaultPostAction         = PostActionNone
)

// Post actions run once all queued work is done
const (
	PostActionNone       = "none"
	PostActionOpenFolder = "open_folder"
)

// Settings manages application configuration
type Settings struct {
	app fyne.App
}

// NewSettings creates a new settings manager
func NewSettings(app fyne.App) *Settings {
	return &Settings{app: app}
}

// GetDownloadDirectory returns the configured download directory
func (s *Settings) GetDownloadDirectory() string {
	dir := s.app.Preferences().String(KeyDownloadDir)
	if dir == "" {
		// Use system default Downloads directory
		base, err := platform.GetHomeDownloadsDir()
		if err != nil {
			base = filepath.Join(".", "downloads")
		}
		defaultDir := filepath.Join(base, DefaultDownloadSubdir)
		s.SetDownloadDirectory(defaultDir)
		return defaultDir
	}
	return dir
}

// SetDownloadDirectory sets the download directory
func (s *Settings) SetDownloadDirectory(dir string) {
	s.app.Preferences().SetString(KeyDownloadDir, dir)
}

// GetMaxParallelDownloads returns the maximum number of parallel downloads
func (s *Settings) GetMaxParallelDownloads() int {
	value := s.app.Preferences().Int(KeyMaxParallel)
	if value <= 0 {
		s.SetMaxParallelDownloads(DefaultMaxParallel)
		return DefaultMaxParallel
	}
	return ClampParallel(value)
}

// SetMaxParallelDownloads sets the maximum number of parallel downloads
func (s *Settings) SetMaxParallelDownloads(count int) {
	s.app.Preferences().SetInt(KeyMaxParallel, ClampParallel(count))
}

// GetQualityFormat returns the format selector
func (s *Settings) GetQualityFormat() string {
	return s.app.Preferences().StringWithFallback(KeyQualityFormat, DefaultQuality)
}

// SetQualityFormat sets the format selector
func (s *Settings) SetQualityFormat(format string) {
	if strings.TrimSpace(format) == "" {
		format = DefaultQuality
	}
	s.app.Preferences().SetString(KeyQualityFormat, format)
}

// GetFilenameTemplate returns the filename template
func (s *Settings) GetFilenameTemplate() string {
	template := s.app.Preferences().String(KeyFilenameTemplate)
	if template == "" {
		s.SetFilenameTemplate(DefaultFilenameTemplate)
		return DefaultFilenameTemplate
	}
	return template
}

// SetFilenameTemplate sets the filename template
func (s *Settings) SetFilenameTemplate(template string) {
	if template == "" {
		template = DefaultFilenameTemplate
	}
	s.app.Preferences().SetString(KeyFilenameTemplate, template)
}

// GetBandwidthLimit returns the rate cap, "0" meaning unlimited
func (s *Settings) GetBandwidthLimit() string {
	return s.app.Preferences().StringWithFallback(KeyBandwidthLimit, DefaultBandwidthLimit)
}

// SetBandwidthLimit sets the rate cap (e.g. "5M")
func (s *Settings) SetBandwidthLimit(limit string) {
	if strings.TrimSpace(limit) == "" {
		limit = DefaultBandwidthLimit
	}
	s.app.Preferences().SetString(KeyBandwidthLimit, strings.TrimSpace(limit))
}

// GetSubtitlePolicy returns the subtitle settings
func (s *Settings) GetSubtitlePolicy() SubtitlePolicy {
	p := s.app.Preferences()
	return SubtitlePolicy{
		Download: p.BoolWithFallback(KeyDownloadSubtitles, DefaultDownloadSubtitles),
		Embed:    p.BoolWithFallback(KeyEmbedSubtitles, DefaultEmbedSubtitles),
		Format:   p.StringWithFallback(KeySubtitleFormat, DefaultSubtitleFormat),
		Langs:    p.StringWithFallback(KeySubtitleLangs, DefaultSubtitleLangs),
	}
}

// SetSubtitlePolicy stores the subtitle settings
func (s *Settings) SetSubtitlePolicy(policy SubtitlePolicy) {
	p := s.app.Preferences()
	p.SetBool(KeyDownloadSubtitles, policy.Download)
	p.SetBool(KeyEmbedSubtitles, policy.Embed)
	if policy.Format != "" {
		p.SetString(KeySubtitleFormat, policy.Format)
	}
	if policy.Langs != "" {
		p.SetString(KeySubtitleLangs, policy.Langs)
	}
}

// GetConversionFormat returns the container target, "none" disables remuxing
func (s *Settings) GetConversionFormat() string {
	return s.app.Preferences().StringWithFallback(KeyConversionFormat, DefaultConversionFormat)
}

// SetConversionFormat sets the container target
func (s *Settings) SetConversionFormat(format string) {
	s.app.Preferences().SetString(KeyConversionFormat, strings.ToLower(format))
}

// GetPreferredCodec returns the video codec finished files should carry
func (s *Settings) GetPreferredCodec() string {
	return s.app.Preferences().StringWithFallback(KeyPreferredCodec, DefaultPreferredCodec)
}

// SetPreferredCodec sets the preferred video codec
func (s *Settings) SetPreferredCodec(codec string) {
	s.app.Preferences().SetString(KeyPreferredCodec, strings.ToLower(codec))
}

// GetHardwareEncoder returns the encoder family
func (s *Settings) GetHardwareEncoder() string {
	return s.app.Preferences().StringWithFallback(KeyHardwareEncoder, DefaultHardwareEncoder)
}

// SetHardwareEncoder sets the encoder family (cpu, nvidia, intel, amd)
func (s *Settings) SetHardwareEncoder(encoder string) {
	switch encoder {
	case EncoderCPU, EncoderNvidia, EncoderIntel, EncoderAMD:
	default:
		encoder = DefaultHardwareEncoder
	}
	s.app.Preferences().SetString(KeyHardwareEncoder, encoder)
}

// GetQualityPolicy returns the per-codec quality values
func (s *Settings) GetQualityPolicy() QualityPolicy {
	p := s.app.Preferences()
	return QualityPolicy{
		H264CRF: p.IntWithFallback(KeyH264CRF, DefaultH264CRF),
		H265CRF: p.IntWithFallback(KeyH265CRF, DefaultH265CRF),
		VP9CRF:  p.IntWithFallback(KeyVP9CRF, DefaultVP9CRF),
		AV1CRF:  p.IntWithFallback(KeyAV1CRF, DefaultAV1CRF),
		GPUCQ:   p.IntWithFallback(KeyGPUCQ, DefaultGPUCQ),
	}
}

// SetQualityPolicy stores the per-codec quality values
func (s *Settings) SetQualityPolicy(q QualityPolicy) {
	p := s.app.Preferences()
	p.SetInt(KeyH264CRF, q.H264CRF)
	p.SetInt(KeyH265CRF, q.H265CRF)
	p.SetInt(KeyVP9CRF, q.VP9CRF)
	p.SetInt(KeyAV1CRF, q.AV1CRF)
	p.SetInt(KeyGPUCQ, q.GPUCQ)
}

// GetDeleteOnConversion returns whether remuxed originals are deleted
func (s *Settings) GetDeleteOnConversion() bool {
	return s.app.Preferences().BoolWithFallback(KeyDeleteOnConversion, DefaultDeleteOnConversion)
}

// SetDeleteOnConversion sets whether remuxed originals are deleted
func (s *Settings) SetDeleteOnConversion(del bool) {
	s.app.Preferences().SetBool(KeyDeleteOnConversion, del)
}

// GetPostAction returns the action run when all work is done
func (s *Settings) GetPostAction() string {
	return s.app.Preferences().StringWithFallback(KeyPostAction, DefaultPostAction)
}

// SetPostAction sets the action run when all work is done
func (s *Settings) SetPostAction(action string) {
	s.app.Preferences().SetString(KeyPostAction, action)
}

// GetToolPaths returns the configured yt-dlp and ffmpeg paths ("" means PATH lookup)
func (s *Settings) GetToolPaths() (ytdlp, ffmpeg string) {
	p := s.app.Preferences()
	return p.String(KeyYTDLPPath), p.String(KeyFFmpegPath)
}

// SetToolPaths stores explicit executable paths
func (s *Settings) SetToolPaths(ytdlp, ffmpeg string) {
	p := s.app.Preferences()
	p.SetString(KeyYTDLPPath, ytdlp)
	p.SetString(KeyFFmpegPath, ffmpeg)
}

// Options returns a snapshot of all settings
func (s *Settings) Options() Options {
	ytdlp, ffmpeg := s.GetToolPaths()
	return Options{
		DownloadDir:        s.GetDownloadDirectory(),
		MaxParallel:        s.GetMaxParallelDownloads(),
		Quality:            s.GetQualityFormat(),
		FilenameTemplate:   s.GetFilenameTemplate(),
		BandwidthLimit:     s.GetBandwidthLimit(),
		Subtitles:          s.GetSubtitlePolicy(),
		ConversionFormat:   s.GetConversionFormat(),
		PreferredCodec:     s.GetPreferredCodec(),
		HardwareEncoder:    s.GetHardwareEncoder(),
		QualityParams:      s.GetQualityPolicy(),
		DeleteOnConversion: s.GetDeleteOnConversion(),
		PostAction:         s.GetPostAction(),
		YTDLPPath:          ytdlp,
		FFmpegPath:         ffmpeg,
	}
}
