package media

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediamill/internal/artifact"
	"mediamill/internal/faults"
	"mediamill/internal/pipeline"
)

// fileState is shared by the stages of one upload-based pipeline.
type fileState struct {
	cfg      Config
	store    *artifact.Store
	jobID    string
	baseName string // upload filename without extension

	// Set by probe, read by the encode stages for progress scaling.
	duration time.Duration
}

func (s *fileState) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CommandTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

// probeStage reads the media duration with ffprobe. It doubles as the
// cheap up-front validity check: ffprobe refuses files ffmpeg would choke
// on later, so corrupt uploads fail before any encoding starts.
type probeStage struct {
	state  *fileState
	weight int
}

func (st *probeStage) Name() string { return "probe" }

func (st *probeStage) Weight() int { return st.weight }

func (st *probeStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Inspecting media", 0)

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	var sb strings.Builder
	stderr, err := runCommand(ctx, st.state.cfg.Tools.FFprobe, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		in.Path,
	}, func(line string) {
		sb.WriteString(strings.TrimSpace(line))
	})
	if err != nil {
		return nil, classifyEncodeError(err, stderr)
	}

	secs, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil || secs <= 0 {
		return nil, faults.New(faults.ErrPermanent, "media duration could not be determined")
	}
	st.state.duration = time.Duration(secs * float64(time.Second))

	report("Media inspected", 100)
	return in, nil
}

// transcodeStage converts the input into the requested container/codec.
type transcodeStage struct {
	state  *fileState
	weight int
	target string
}

func (st *transcodeStage) Name() string { return "transcode" }

func (st *transcodeStage) Weight() int { return st.weight }

func (st *transcodeStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Transcoding to "+st.target, 0)

	ext := targets[st.target]
	out := st.state.store.Allocate(st.state.jobID, artifact.RoleIntermediate, ext)

	args := []string{"-y", "-i", in.Path}
	if audioTargets[st.target] {
		args = append(args, "-vn")
		if st.target == "mp3" {
			args = append(args, "-acodec", "libmp3lame", "-q:a", "2")
		}
	}
	args = append(args,
		"-progress", "pipe:1", "-nostats", "-loglevel", "error",
		out.Path,
	)

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	stderr, err := runCommand(ctx, st.state.cfg.Tools.FFmpeg, args,
		ffmpegReporter(st.state.duration, "Transcoding to "+st.target, report))
	if err != nil {
		st.state.store.Remove(out)
		return nil, classifyEncodeError(err, stderr)
	}

	if err := st.state.cfg.verifyOutput(st.state.store, out); err != nil {
		return nil, err
	}
	out.Name = SafeFilename(st.state.baseName, ext)
	report("Transcode complete", 100)
	return out, nil
}

// compressStage re-encodes video at a size-biased quality level.
type compressStage struct {
	state  *fileState
	weight int
}

func (st *compressStage) Name() string { return "compress" }

func (st *compressStage) Weight() int { return st.weight }

func (st *compressStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Compressing", 0)

	out := st.state.store.Allocate(st.state.jobID, artifact.RoleIntermediate, "mp4")
	args := []string{
		"-y", "-i", in.Path,
		"-vcodec", "libx264", "-crf", "28", "-preset", "veryfast",
		"-acodec", "aac",
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats", "-loglevel", "error",
		out.Path,
	}

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	stderr, err := runCommand(ctx, st.state.cfg.Tools.FFmpeg, args,
		ffmpegReporter(st.state.duration, "Compressing", report))
	if err != nil {
		st.state.store.Remove(out)
		return nil, classifyEncodeError(err, stderr)
	}

	if err := st.state.cfg.verifyOutput(st.state.store, out); err != nil {
		return nil, err
	}
	out.Name = SafeFilename(st.state.baseName+"_compressed", "mp4")
	report("Compression complete", 100)
	return out, nil
}

// extractStage strips the video track and encodes the audio as mp3.
type extractStage struct {
	state  *fileState
	weight int
}

func (st *extractStage) Name() string { return "extract" }

func (st *extractStage) Weight() int { return st.weight }

func (st *extractStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	report("Extracting audio", 0)

	out := st.state.store.Allocate(st.state.jobID, artifact.RoleIntermediate, "mp3")
	args := []string{
		"-y", "-i", in.Path,
		"-vn", "-acodec", "libmp3lame", "-q:a", "2",
		"-progress", "pipe:1", "-nostats", "-loglevel", "error",
		out.Path,
	}

	ctx, cancel := st.state.commandContext(ctx)
	defer cancel()

	stderr, err := runCommand(ctx, st.state.cfg.Tools.FFmpeg, args,
		ffmpegReporter(st.state.duration, "Extracting audio", report))
	if err != nil {
		st.state.store.Remove(out)
		return nil, classifyEncodeError(err, stderr)
	}

	if err := st.state.cfg.verifyOutput(st.state.store, out); err != nil {
		return nil, err
	}
	out.Name = SafeFilename(st.state.baseName, "mp3")
	report("Audio extracted", 100)
	return out, nil
}

// uploadBaseName derives the output naming stem from the stored upload.
func uploadBaseName(in *artifact.Artifact) string {
	name := in.Name
	if name == "" {
		name = filepath.Base(in.Path)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
