package compress

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ytget/tver-downloader/internal/config"
)

// PlanKind is the conversion decided for a finished download
type PlanKind int

const (
	PlanNone PlanKind = iota
	PlanRemux
	PlanReencode
)

func (k PlanKind) String() string {
	switch k {
	case PlanRemux:
		return "remux"
	case PlanReencode:
		return "reencode"
	}
	return "none"
}

// Plan is derived per job from the current options and the probed codec
type Plan struct {
	Kind           PlanKind
	Input          string
	Output         string
	Container      string // remux target container
	SourceCodec    string // probed codec, ffprobe naming
	TargetCodec    string // ffprobe naming
	Encoder        string
	Hardware       string // encoder family actually used
	Quality        int
	DeleteOriginal bool
}

// Phase returns the sub-phase name shown while the plan runs
func (p Plan) Phase() string {
	switch p.Kind {
	case PlanRemux:
		return fmt.Sprintf("Converting to %s", p.Container)
	case PlanReencode:
		return fmt.Sprintf("Encoding %s (%s)", p.TargetCodec, p.Encoder)
	}
	return ""
}

// codecAliases maps user facing codec names to ffprobe codec names
var codecAliases = map[string]string{
	"avc":  "h264",
	"h264": "h264",
	"hevc": "hevc",
	"h265": "hevc",
	"vp9":  "vp9",
	"av1":  "av1",
}

// encoderTable lists the encoder per target codec and family. Missing
// entries fall back to the CPU encoder.
var encoderTable = map[string]map[string]string{
	"h264": {
		config.EncoderCPU:    "libx264",
		config.EncoderNvidia: "h264_nvenc",
		config.EncoderIntel:  "h264_qsv",
		config.EncoderAMD:    "h264_amf",
	},
	"hevc": {
		config.EncoderCPU:    "libx265",
		config.EncoderNvidia: "hevc_nvenc",
		config.EncoderIntel:  "hevc_qsv",
		config.EncoderAMD:    "hevc_amf",
	},
	"vp9": {
		config.EncoderCPU:   "libvpx-vp9",
		config.EncoderIntel: "vp9_qsv",
	},
	"av1": {
		config.EncoderCPU:    "libsvtav1",
		config.EncoderNvidia: "av1_nvenc",
		config.EncoderIntel:  "av1_qsv",
		config.EncoderAMD:    "av1_amf",
	},
}

// TargetCodec returns the ffprobe name of the preferred codec, or "" when
// no codec policy applies
func TargetCodec(preferred string) string {
	return codecAliases[strings.ToLower(strings.TrimSpace(preferred))]
}

// SelectEncoder returns the encoder for codec, falling back to the CPU
// family when the requested hardware has none
func SelectEncoder(codec, hardware string) (encoder, family string) {
	table := encoderTable[codec]
	if enc, ok := table[hardware]; ok {
		return enc, hardware
	}
	return table[config.EncoderCPU], config.EncoderCPU
}

// QualityFor returns the constant-quality value for codec and family
func QualityFor(codec, family string, q config.QualityPolicy) int {
	if family != config.EncoderCPU {
		return q.GPUCQ
	}
	switch codec {
	case "hevc":
		return q.H265CRF
	case "vp9":
		return q.VP9CRF
	case "av1":
		return q.AV1CRF
	}
	return q.H264CRF
}

// containerTarget returns the configured container when it differs from the
// input's, or ""
func containerTarget(input string, opts config.Options) string {
	target := strings.ToLower(strings.TrimSpace(opts.ConversionFormat))
	if target == "" || target == config.FormatNone {
		return ""
	}
	current := strings.ToLower(strings.TrimPrefix(filepath.Ext(input), "."))
	if target == current {
		return ""
	}
	return target
}

func remuxPlan(input, container string, opts config.Options) Plan {
	return Plan{
		Kind:           PlanRemux,
		Input:          input,
		Output:         strings.TrimSuffix(input, filepath.Ext(input)) + "." + container,
		Container:      container,
		DeleteOriginal: opts.DeleteOnConversion,
	}
}

func reencodePlan(input, source, target string, opts config.Options) Plan {
	encoder, family := SelectEncoder(target, opts.HardwareEncoder)
	return Plan{
		Kind:           PlanReencode,
		Input:          input,
		Output:         strings.TrimSuffix(input, filepath.Ext(input)) + "_" + target + OutputExtensionMP4,
		SourceCodec:    source,
		TargetCodec:    target,
		Encoder:        encoder,
		Hardware:       family,
		Quality:        QualityFor(target, family, opts.QualityParams),
		DeleteOriginal: true,
	}
}
