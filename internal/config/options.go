package config

// Conversion targets
const (
	FormatNone = "none"
	CodecNone  = "none"
)

// Encoder families
const (
	EncoderCPU    = "cpu"
	EncoderNvidia = "nvidia"
	EncoderIntel  = "intel"
	EncoderAMD    = "amd"
)

// Concurrency bounds
const (
	MinParallel = 1
	MaxParallel = 5
)

// SubtitlePolicy controls subtitle retrieval
type SubtitlePolicy struct {
	Download bool
	Embed    bool
	Format   string // vtt or srt, used when not embedding
	Langs    string
}

// QualityPolicy holds the constant-quality values per codec
type QualityPolicy struct {
	H264CRF int
	H265CRF int
	VP9CRF  int
	AV1CRF  int
	GPUCQ   int
}

// Options is an immutable snapshot of the settings a job runs with. Each job
// copies it when it starts.
type Options struct {
	DownloadDir      string
	MaxParallel      int
	Quality          string // format selector passed to -f
	FilenameTemplate string
	BandwidthLimit   string // "0" disables the cap
	Subtitles        SubtitlePolicy

	ConversionFormat   string // container target or "none"
	PreferredCodec     string // avc, hevc, vp9, av1 or "none"
	HardwareEncoder    string
	QualityParams      QualityPolicy
	DeleteOnConversion bool // remux branch only; re-encoding always deletes

	PostAction string
	YTDLPPath  string
	FFmpegPath string
}

// DefaultOptions returns the built-in defaults
func DefaultOptions() Options {
	return Options{
		MaxParallel:      DefaultMaxParallel,
		Quality:          DefaultQuality,
		FilenameTemplate: DefaultFilenameTemplate,
		BandwidthLimit:   DefaultBandwidthLimit,
		Subtitles: SubtitlePolicy{
			Download: DefaultDownloadSubtitles,
			Embed:    DefaultEmbedSubtitles,
			Format:   DefaultSubtitleFormat,
			Langs:    DefaultSubtitleLangs,
		},
		ConversionFormat: DefaultConversionFormat,
		PreferredCodec:   DefaultPreferredCodec,
		HardwareEncoder:  DefaultHardwareEncoder,
		QualityParams: QualityPolicy{
			H264CRF: DefaultH264CRF,
			H265CRF: DefaultH265CRF,
			VP9CRF:  DefaultVP9CRF,
			AV1CRF:  DefaultAV1CRF,
			GPUCQ:   DefaultGPUCQ,
		},
		PostAction: DefaultPostAction,
	}
}

// ConversionEnabled reports whether finished downloads go through the
// conversion step at all
func (o Options) ConversionEnabled() bool {
	return (o.ConversionFormat != "" && o.ConversionFormat != FormatNone) ||
		(o.PreferredCodec != "" && o.PreferredCodec != CodecNone)
}

// ClampParallel bounds n to the supported concurrency range
func ClampParallel(n int) int {
	if n < MinParallel {
		return MinParallel
	}
	if n > MaxParallel {
		return MaxParallel
	}
	return n
}
