package download

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

// Path length limits
const (
	MaxPathLength  = 250
	MinTitleLength = 10
	DefaultExt     = "mp4"
)

var (
	reTemplateField     = regexp.MustCompile(`%%|%\(([^)]*)\)s`)
	reLeadingSeparators = regexp.MustCompile(`^[\s\p{Pd}\p{Pc}\p{Po}\p{S}\x{3000}]+`) // opening brackets stay
	reWhitespace        = regexp.MustCompile(`\s+`)
)

// ResolveOutputPath expands the naming template against probed metadata and
// returns the absolute output path. Only the title is shortened to keep the
// path within MaxPathLength runes; truncated reports whether that happened.
func ResolveOutputPath(dir, template string, md model.Metadata) (path string, truncated bool) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = filepath.Clean(dir)
	}

	title := []rune(EpisodeTitle(md))
	path = filepath.Join(absDir, renderName(template, md, string(title)))

	for keep := len(title); utf8.RuneCountInString(path) > MaxPathLength && keep > MinTitleLength; {
		excess := utf8.RuneCountInString(path) - MaxPathLength
		keep = max(MinTitleLength, keep-excess)
		shortened := strings.TrimSpace(string(title[:keep]))
		candidate := filepath.Join(absDir, renderName(template, md, shortened))
		if candidate == path {
			// title does not appear in the template
			break
		}
		path = candidate
		truncated = true
	}
	return path, truncated
}

// EpisodeTitle returns the title with a leading copy of the series name
// removed. The comparison ignores case and separator punctuation.
func EpisodeTitle(md model.Metadata) string {
	title := strings.TrimSpace(md.Title)
	series := md.SeriesName()
	if series == "" {
		return title
	}
	if stripped := stripSeriesPrefix(title, series); stripped != "" {
		return stripped
	}
	return title
}

func stripSeriesPrefix(title, series string) string {
	words := strings.FieldsFunc(series, isSeparator)
	if len(words) == 0 {
		return title
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)^[\s\p{P}\x{3000}]*` + strings.Join(quoted, `[\s\p{P}\p{S}\x{3000}]*`))
	if err != nil {
		return title
	}
	loc := re.FindStringIndex(title)
	if loc == nil {
		return title
	}

	// "Show" must not eat the start of "Showtime"
	last, _ := utf8.DecodeLastRuneInString(title[:loc[1]])
	next, _ := utf8.DecodeRuneInString(title[loc[1]:])
	if isASCIIWord(last) && isASCIIWord(next) {
		return title
	}

	rest := reLeadingSeparators.ReplaceAllString(title[loc[1]:], "")
	return strings.TrimSpace(rest)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func isASCIIWord(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// renderName substitutes %(field)s placeholders. A field may list
// alternatives ("series,playlist_title") and may carry a date format
// ("upload_date>%Y-%m-%d"). Missing fields become empty strings.
func renderName(template string, md model.Metadata, title string) string {
	name := reTemplateField.ReplaceAllStringFunc(template, func(token string) string {
		if token == "%%" {
			return "%"
		}
		key := token[2 : len(token)-2]
		return platform.SanitizeFileName(fieldValue(key, md, title))
	})

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "." || ext == "" || strings.ContainsAny(ext, " \u3000") {
		stem, ext = name, "."+DefaultExt
	}
	stem = strings.TrimSpace(reWhitespace.ReplaceAllString(stem, " "))
	return stem + ext
}

func fieldValue(key string, md model.Metadata, title string) string {
	key, format, hasFormat := strings.Cut(key, ">")
	for _, name := range strings.Split(key, ",") {
		name = strings.TrimSpace(name)
		var value string
		switch name {
		case "title":
			value = title
		case "ext":
			value = md.Ext
			if value == "" {
				value = DefaultExt
			}
		default:
			value = md.Field(name)
		}
		if value == "" {
			continue
		}
		if hasFormat {
			return formatDate(value, format)
		}
		return value
	}
	return ""
}

// formatDate renders a YYYYMMDD value with a strftime-style format.
// Unparsable values are returned as their first eight characters.
func formatDate(raw, format string) string {
	if len(raw) > 8 {
		raw = raw[:8]
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return raw
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 == len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			b.WriteString(t.Format("2006"))
		case 'y':
			b.WriteString(t.Format("06"))
		case 'm':
			b.WriteString(t.Format("01"))
		case 'd':
			b.WriteString(t.Format("02"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}

// EscapeOutputTemplate escapes a literal path for yt-dlp's -o option, which
// treats % as the start of a template field.
func EscapeOutputTemplate(path string) string {
	return strings.ReplaceAll(path, "%", "%%")
}
