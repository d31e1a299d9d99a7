// Package stages implements the pipeline stage adapters: the ten work stages
// from download through publish, and the three review gates. Adapters uphold
// the shared contract: precondition check, hash-based idempotency, provenance
// on success, cascade invalidation of downstream outputs, and cost accounting.
package stages

import (
	"log/slog"

	"dublaj/internal/artifacts"
	"dublaj/internal/logging"
	"dublaj/internal/prompts"
	"dublaj/internal/provenance"
	"dublaj/internal/review"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

// Deps bundles the services and external collaborators adapters use. The
// orchestrator constructs one Deps at startup and threads it through; there
// are no package-level singletons.
type Deps struct {
	Store      *store.Store
	Artifacts  *artifacts.Store
	Prompts    *prompts.Registry
	Provenance *provenance.Writer
	Review     *review.Service

	Downloader  stage.AudioDownloader
	Transcriber stage.Transcriber
	Chat        stage.ChatModel
	Images      stage.ImageGenerator
	Speech      stage.SpeechSynthesizer
	Renderer    stage.VideoRenderer
	Uploader    stage.Uploader

	Logger *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return logging.NewNop()
	}
	return d.Logger
}

// NewRegistry builds the full stage registry for both pipeline plans.
func NewRegistry(deps *Deps) *stage.Registry {
	registry := stage.NewRegistry()

	registry.Register(&downloadStage{base{deps}})
	registry.Register(&transcribeStage{base{deps}})

	registry.Register(newCorrectStage(deps))
	registry.Register(newTranslateStage(deps))
	registry.Register(newAdaptStage(deps))

	registry.Register(&chapterizeStage{base{deps}})
	registry.Register(&imageGenStage{base{deps}})
	registry.Register(&ttsStage{base{deps}})
	registry.Register(&renderStage{base{deps}})
	registry.Register(&publishStage{base{deps}})

	registry.Register(newGate(deps, stage.StageReviewGate1))
	registry.Register(newGate(deps, stage.StageReviewGate2))
	registry.Register(newGate(deps, stage.StageReviewGate3))

	return registry
}
