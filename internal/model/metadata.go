package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Metadata is the subset of the probe record the pipeline relies on. Every
// other scalar field of the record is kept in Extra so naming templates can
// reference it.
type Metadata struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Thumbnail     string  `json:"thumbnail"`
	Series        string  `json:"series"`
	PlaylistTitle string  `json:"playlist_title"`
	UploadDate    string  `json:"upload_date"`
	Episode       string  `json:"episode"`
	EpisodeNumber *int    `json:"episode_number"`
	Ext           string  `json:"ext"`
	VCodec        string  `json:"vcodec"`
	ACodec        string  `json:"acodec"`
	Duration      float64 `json:"duration"`

	Extra map[string]string `json:"-"`
}

// ParseMetadata decodes a single probe record.
func ParseMetadata(data []byte) (Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, errors.Wrap(err, "decode metadata")
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, errors.Wrap(err, "decode metadata fields")
	}
	if md.ID == "" && md.Title == "" {
		return Metadata{}, errors.New("metadata has neither id nor title")
	}

	md.Extra = make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := scalarString(value); ok {
			md.Extra[key] = s
		}
	}
	return md, nil
}

// SeriesName returns the series name, falling back to the playlist title
func (m Metadata) SeriesName() string {
	if s := strings.TrimSpace(m.Series); s != "" {
		return s
	}
	return strings.TrimSpace(m.PlaylistTitle)
}

// Field returns the value of a template field, or "" when it is unavailable.
func (m Metadata) Field(name string) string {
	switch name {
	case "id":
		return m.ID
	case "title":
		return m.Title
	case "thumbnail":
		return m.Thumbnail
	case "series":
		return m.Series
	case "playlist_title":
		return m.PlaylistTitle
	case "upload_date":
		return m.UploadDate
	case "episode":
		return m.Episode
	case "episode_number":
		if m.EpisodeNumber == nil {
			return ""
		}
		return strconv.Itoa(*m.EpisodeNumber)
	case "ext":
		return m.Ext
	case "vcodec":
		return m.VCodec
	case "acodec":
		return m.ACodec
	}
	return m.Extra[name]
}

func scalarString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}
