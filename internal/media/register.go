package media

import (
	"mediamill/internal/artifact"
	"mediamill/internal/faults"
	"mediamill/internal/model"
	"mediamill/internal/pipeline"
)

// Register binds a pipeline builder for every job kind. Builders validate
// the kind-specific options they depend on; anything rejected here fails
// the job before a single external command runs.
func Register(reg *pipeline.Registry, store *artifact.Store, cfg Config) {
	reg.Register(model.KindFetch, func(req pipeline.Request) (*pipeline.Pipeline, error) {
		format := req.Options.Format
		if format == "" {
			format = "mp4"
		}
		if format != "mp4" && format != "mp3" {
			return nil, faults.Newf(faults.ErrValidation, "unsupported fetch format %q", format)
		}
		state := &fetchState{
			cfg:    cfg,
			store:  store,
			jobID:  req.JobID,
			url:    req.Options.URL,
			format: format,
		}
		if format == "mp3" {
			// yt-dlp extracts the audio itself, no remux needed.
			return pipeline.New(store,
				&resolveStage{state, 10},
				&downloadStage{state, 90},
			)
		}
		return pipeline.New(store,
			&resolveStage{state, 10},
			&downloadStage{state, 70},
			&remuxStage{state, 20},
		)
	})

	reg.Register(model.KindTranscode, func(req pipeline.Request) (*pipeline.Pipeline, error) {
		target := req.Options.Target
		if !ValidTarget(target) {
			return nil, faults.Newf(faults.ErrValidation, "unsupported target format %q", target)
		}
		state := &fileState{
			cfg:      cfg,
			store:    store,
			jobID:    req.JobID,
			baseName: uploadBaseName(req.Input),
		}
		return pipeline.New(store,
			&probeStage{state, 10},
			&transcodeStage{state, 90, target},
		)
	})

	reg.Register(model.KindCompress, func(req pipeline.Request) (*pipeline.Pipeline, error) {
		state := &fileState{
			cfg:      cfg,
			store:    store,
			jobID:    req.JobID,
			baseName: uploadBaseName(req.Input),
		}
		return pipeline.New(store,
			&probeStage{state, 10},
			&compressStage{state, 90},
		)
	})

	reg.Register(model.KindExtractAudio, func(req pipeline.Request) (*pipeline.Pipeline, error) {
		state := &fileState{
			cfg:      cfg,
			store:    store,
			jobID:    req.JobID,
			baseName: uploadBaseName(req.Input),
		}
		return pipeline.New(store,
			&probeStage{state, 10},
			&extractStage{state, 90},
		)
	})
}
