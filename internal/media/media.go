// Package media implements the concrete pipeline stages: fetching remote
// sources with yt-dlp and transforming local files with ffmpeg. The engine
// only sees the stage contract; everything toolchain-specific lives here.
package media

import (
	"os/exec"
	"time"
)

// Toolchain holds resolved paths to the external binaries the stages shell
// out to.
type Toolchain struct {
	FFmpeg  string
	FFprobe string
	YtDlp   string
}

// Lookup resolves the toolchain from PATH. Missing binaries are reported by
// name so startup can warn rather than fail; jobs needing an absent tool
// fail at execution time instead.
func Lookup() (Toolchain, []string) {
	var tc Toolchain
	var missing []string

	for _, bin := range []struct {
		name string
		dst  *string
	}{
		{"ffmpeg", &tc.FFmpeg},
		{"ffprobe", &tc.FFprobe},
		{"yt-dlp", &tc.YtDlp},
	} {
		path, err := exec.LookPath(bin.name)
		if err != nil {
			missing = append(missing, bin.name)
			continue
		}
		*bin.dst = path
	}
	return tc, missing
}

// Ready reports whether the full toolchain is available.
func (t Toolchain) Ready() bool {
	return t.FFmpeg != "" && t.FFprobe != "" && t.YtDlp != ""
}

// Config carries the knobs the stages need beyond the toolchain itself.
type Config struct {
	Tools          Toolchain
	MaxOutputBytes int64
	CommandTimeout time.Duration
}

// targets maps a transcode/extract target format to its output extension.
// Keys double as the submission-time allow-list.
var targets = map[string]string{
	"mp4":  "mp4",
	"webm": "webm",
	"mkv":  "mkv",
	"mov":  "mov",
	"mp3":  "mp3",
	"wav":  "wav",
	"ogg":  "ogg",
	"m4a":  "m4a",
	"flac": "flac",
}

// audioTargets marks the audio-only members of targets.
var audioTargets = map[string]bool{
	"mp3": true, "wav": true, "ogg": true, "m4a": true, "flac": true,
}

// ValidTarget reports whether a transcode target format is supported.
func ValidTarget(target string) bool {
	_, ok := targets[target]
	return ok
}
