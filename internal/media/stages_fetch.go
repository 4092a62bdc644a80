package media

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"mediamill/internal/artifact"
	"mediamill/internal/faults"
	"mediamill/internal/pipeline"
)

// fetchState is shared by the stages of one fetch pipeline. Stages run
// sequentially, so no locking is needed.
type fetchState struct {
	cfg    Config
	store  *artifact.Store
	jobID  string
	url    string
	format string // "mp4" or "mp3"

	// Set by resolve, read by the later stages.
	title    string
	duration time.Duration
}

func (s *fetchState) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CommandTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

// resolveStage queries source metadata before any bytes move, so failures
// like private or deleted videos surface cheaply and the download stage
// can report meaningful progress.
type resolveStage struct {
	state  *fetchState
	weight int
}

func (st *resolveStage) Name() string { return "resolve" }

func (st *resolveStage) Weight() int { return st.weight }

func (st *resolveStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Resolving source", 0)

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	var sb strings.Builder
	stderr, err := runCommand(ctx, st.state.cfg.Tools.YtDlp, []string{
		"-J", "--no-playlist", "--no-warnings", st.state.url,
	}, func(line string) {
		sb.WriteString(line)
	})
	if err != nil {
		return nil, classifyFetchError(err, stderr)
	}

	var meta struct {
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal([]byte(sb.String()), &meta); err != nil {
		return nil, faults.Wrap(faults.ErrPermanent, "source metadata could not be parsed", err)
	}
	st.state.title = meta.Title
	st.state.duration = time.Duration(meta.Duration * float64(time.Second))

	report("Resolved "+meta.Title, 100)
	return in, nil
}

// downloadStage pulls the media with yt-dlp, parsing its --newline
// progress output into stage-local percentages.
type downloadStage struct {
	state  *fetchState
	weight int
}

func (st *downloadStage) Name() string { return "download" }

func (st *downloadStage) Weight() int { return st.weight }

func (st *downloadStage) Run(ctx context.Context, _ *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Starting download", 0)

	out := st.state.store.Allocate(st.state.jobID, artifact.RoleIntermediate, st.state.format)

	var args []string
	if st.state.format == "mp3" {
		args = []string{
			"-x", "--audio-format", "mp3", "--audio-quality", "0",
			"--no-playlist", "--no-warnings", "--newline",
			"-o", out.Path, st.state.url,
		}
	} else {
		// Best video up to 1080p plus best audio; merging guarantees the
		// result always carries an audio track.
		args = []string{
			"-f", "bv*[height<=1080]+ba/b[height<=1080]",
			"--merge-output-format", "mp4",
			"--no-playlist", "--no-warnings", "--newline",
			"-o", out.Path, st.state.url,
		}
	}
	if st.state.cfg.Tools.FFmpeg != "" {
		args = append(args, "--ffmpeg-location", st.state.cfg.Tools.FFmpeg)
	}

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	stderr, err := runCommand(ctx, st.state.cfg.Tools.YtDlp, args, func(line string) {
		if pct, ok := ParseDownloadPercent(line); ok {
			report("Downloading", pct)
		}
	})
	if err != nil {
		st.state.store.Remove(out)
		return nil, classifyFetchError(err, stderr)
	}

	if err := st.state.cfg.verifyOutput(st.state.store, out); err != nil {
		return nil, err
	}
	out.Name = SafeFilename(st.state.title, st.state.format)
	report("Download complete", 100)
	return out, nil
}

// remuxStage rewrites the container without re-encoding, normalizing
// whatever yt-dlp merged into a broadly playable mp4.
type remuxStage struct {
	state  *fetchState
	weight int
}

func (st *remuxStage) Name() string { return "remux" }

func (st *remuxStage) Weight() int { return st.weight }

func (st *remuxStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Remuxing", 0)

	out := st.state.store.Allocate(st.state.jobID, artifact.RoleIntermediate, "mp4")
	args := []string{
		"-y", "-i", in.Path,
		"-c", "copy", "-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats", "-loglevel", "error",
		out.Path,
	}

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	stderr, err := runCommand(ctx, st.state.cfg.Tools.FFmpeg, args,
		ffmpegReporter(st.state.duration, "Remuxing", report))
	if err != nil {
		st.state.store.Remove(out)
		return nil, classifyEncodeError(err, stderr)
	}

	if err := st.state.cfg.verifyOutput(st.state.store, out); err != nil {
		return nil, err
	}
	out.Name = SafeFilename(st.state.title, "mp4")
	report("Remux complete", 100)
	return out, nil
}

// verifyOutput checks that a stage actually produced a file within the
// configured size budget.
func (c Config) verifyOutput(store *artifact.Store, out *artifact.Artifact) error {
	info, err := os.Stat(out.Path)
	if err != nil {
		return faults.Wrap(faults.ErrPermanent, "processing completed but output not found", err)
	}
	if c.MaxOutputBytes > 0 && info.Size() > c.MaxOutputBytes {
		store.Remove(out)
		return faults.Newf(faults.ErrPermanent,
			"output too large (%dMB), maximum is %dMB", info.Size()>>20, c.MaxOutputBytes>>20)
	}
	return nil
}

// ffmpegReporter converts ffmpeg -progress output into stage percentages
// against a known media duration. Without a duration there is nothing to
// scale against and progress stays wherever the stage left it.
func ffmpegReporter(duration time.Duration, message string, report pipeline.ReportFunc) func(string) {
	return func(line string) {
		elapsed, ok := ParseFFmpegOutTime(line)
		if !ok || duration <= 0 {
			return
		}
		report(message, float64(elapsed)/float64(duration)*100)
	}
}
