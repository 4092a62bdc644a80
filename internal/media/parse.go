package media

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mediamill/internal/faults"
)

// ParseDownloadPercent extracts the completion percentage from a yt-dlp
// --newline progress line ("[download]  42.3% of 10.00MiB at ...").
func ParseDownloadPercent(line string) (float64, bool) {
	if !strings.Contains(line, "[download]") || !strings.Contains(line, "%") {
		return 0, false
	}
	for _, part := range strings.Fields(line) {
		if !strings.HasSuffix(part, "%") {
			continue
		}
		p, err := strconv.ParseFloat(strings.TrimSuffix(part, "%"), 64)
		if err != nil {
			return 0, false
		}
		return p, true
	}
	return 0, false
}

// ParseFFmpegOutTime extracts the elapsed output time from an ffmpeg
// `-progress pipe:1` line. ffmpeg's out_time_ms key carries microseconds.
func ParseFFmpegOutTime(line string) (time.Duration, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return time.Duration(us) * time.Microsecond, true
	}
	return 0, false
}

var (
	unsafeChars  = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// SafeFilename derives a download filename from a media title.
func SafeFilename(title, ext string) string {
	safe := unsafeChars.ReplaceAllString(title, "")
	safe = strings.TrimSpace(safe)
	safe = whitespaceRe.ReplaceAllString(safe, "_")
	if safe == "" {
		safe = "media"
	}
	if len(safe) > 60 {
		safe = safe[:60]
	}
	return safe + "." + strings.TrimPrefix(ext, ".")
}

// ValidateFetchURL checks a fetch source against the configured platform
// allow-list. Rejections are validation faults and never create a job.
func ValidateFetchURL(raw string, allowed []string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return faults.New(faults.ErrValidation, "url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return faults.New(faults.ErrValidation, "url must be a valid http(s) address")
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	for _, domain := range allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return faults.New(faults.ErrValidation, "unsupported platform: "+host)
}
