package download

import (
	"path/filepath"
	"strings"
)

// Component phase names
const (
	ComponentVideo = "video"
	ComponentAudio = "audio"
)

// componentProgress maps the per-stream percentages reported by the transfer
// tool onto a single bar. With n announced streams, stream i owns the range
// [i*100/n, (i+1)*100/n). The mapped value never decreases.
type componentProgress struct {
	total   int
	index   int
	paths   []string
	current string
	last    float64
}

// announce records the number of streams the transfer will fetch
func (c *componentProgress) announce(n int) {
	if n > c.total {
		c.total = n
	}
}

// destination records a newly announced media file; a new path moves to the
// next stream
func (c *componentProgress) destination(path string) {
	for _, p := range c.paths {
		if p == path {
			return
		}
	}
	c.paths = append(c.paths, path)
	c.index = len(c.paths) - 1
	if len(c.paths) > c.total {
		c.total = len(c.paths)
	}
	c.current = componentName(path)
}

// remap converts a stream percentage into a job percentage
func (c *componentProgress) remap(percent float64) float64 {
	overall := percent
	if c.total > 1 {
		overall = (float64(c.index)*100 + percent) / float64(c.total)
	}
	if overall > 100 {
		overall = 100
	}
	if overall < c.last {
		return c.last
	}
	c.last = overall
	return overall
}

// position returns the 1-based stream index and the stream count
func (c *componentProgress) position() (int, int) {
	if len(c.paths) == 0 {
		return 0, c.total
	}
	return c.index + 1, c.total
}

func componentName(path string) string {
	lower := strings.ToLower(filepath.Base(path))
	if strings.Contains(lower, ".m4a") || strings.Contains(lower, "audio") {
		return ComponentAudio
	}
	return ComponentVideo
}
