package media

import (
	"context"
	"errors"
	"strings"

	"mediamill/internal/faults"
)

// classifyFetchError maps a yt-dlp failure to a fault. The stderr tail is
// matched against the error strings yt-dlp is known to emit; the raw output
// itself stays inside the wrapped cause and never reaches callers.
func classifyFetchError(err error, stderr string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(faults.ErrTransient, "download timed out, the video may be too large", err)
	}

	switch {
	case strings.Contains(stderr, "Sign in to confirm your age"):
		return faults.Wrap(faults.ErrPermanent, "video is age-restricted and requires authentication", err)
	case strings.Contains(stderr, "Private video"):
		return faults.Wrap(faults.ErrPermanent, "video is private", err)
	case strings.Contains(stderr, "Video unavailable"):
		return faults.Wrap(faults.ErrPermanent, "video is unavailable or deleted", err)
	case strings.Contains(stderr, "This video is not available"):
		return faults.Wrap(faults.ErrPermanent, "video is region-locked or not available", err)
	case strings.Contains(stderr, "Unsupported URL"):
		return faults.Wrap(faults.ErrPermanent, "unsupported source URL", err)
	case strings.Contains(stderr, "HTTP Error 429"), strings.Contains(stderr, "rate-limit"):
		return faults.Wrap(faults.ErrTransient, "source is rate limiting requests, try again later", err)
	case strings.Contains(stderr, "timed out"), strings.Contains(stderr, "Connection reset"):
		return faults.Wrap(faults.ErrTransient, "network failure while downloading", err)
	case strings.Contains(stderr, "No space left on device"):
		return faults.Wrap(faults.ErrExhausted, "insufficient disk space", err)
	default:
		return faults.Wrap(faults.ErrPermanent,
			"download failed, the video may be private, region-locked, or require login", err)
	}
}

// classifyEncodeError maps an ffmpeg/ffprobe failure to a fault.
func classifyEncodeError(err error, stderr string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(faults.ErrTransient, "media processing timed out", err)
	}

	switch {
	case strings.Contains(stderr, "Invalid data found when processing input"),
		strings.Contains(stderr, "moov atom not found"),
		strings.Contains(stderr, "Invalid argument"):
		return faults.Wrap(faults.ErrPermanent, "unsupported or corrupt media file", err)
	case strings.Contains(stderr, "No space left on device"):
		return faults.Wrap(faults.ErrExhausted, "insufficient disk space", err)
	default:
		return faults.Wrap(faults.ErrInternal, "media processing failed", err)
	}
}
