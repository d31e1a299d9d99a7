package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"dublaj/internal/artifacts"
	"dublaj/internal/config"
	"dublaj/internal/costguard"
	"dublaj/internal/detector"
	"dublaj/internal/logging"
	"dublaj/internal/pipeline"
	"dublaj/internal/prompts"
	"dublaj/internal/provenance"
	"dublaj/internal/review"
	"dublaj/internal/services/genai"
	"dublaj/internal/services/llm"
	"dublaj/internal/services/media"
	"dublaj/internal/services/upload"
	"dublaj/internal/stages"
	"dublaj/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

// application bundles the wired services for one command invocation. The
// store is opened per invocation and closed by withApp.
type application struct {
	config       *config.Config
	logger       *slog.Logger
	store        *store.Store
	artifacts    *artifacts.Store
	prompts      *prompts.Registry
	review       *review.Service
	orchestrator *pipeline.Orchestrator
	detector     *detector.Service
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) withApp(fn func(*application) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	artifactStore := artifacts.NewStore(cfg.Paths.DataRoot)
	promptRegistry := prompts.NewRegistry(st, cfg.TemplatesDir(), logger)
	reviewService := review.NewService(st, artifactStore, cfg.Review, logger)

	chat := llm.NewClient(cfg.LLM)
	gen := genai.NewClient(cfg.LLM, cfg.Transcribe, cfg.TTS, cfg.ImageGen)

	registry := stages.NewRegistry(&stages.Deps{
		Store:      st,
		Artifacts:  artifactStore,
		Prompts:    promptRegistry,
		Provenance: provenance.NewWriter(artifactStore),
		Review:     reviewService,

		Downloader:  media.NewHTTPDownloader(nil),
		Transcriber: gen,
		Chat:        chat,
		Images:      gen,
		Speech:      gen,
		Renderer:    media.NewFFmpegRenderer(""),
		Uploader:    upload.NewYouTubeUploader("", cfg.Publish.PrivacyStatus),

		Logger: logger,
	})

	guard := costguard.New(st, cfg.Pipeline.MaxEpisodeCostUSD)

	return fn(&application{
		config:       cfg,
		logger:       logger,
		store:        st,
		artifacts:    artifactStore,
		prompts:      promptRegistry,
		review:       reviewService,
		orchestrator: pipeline.New(st, registry, guard, cfg, logger),
		detector:     detector.NewService(st, detector.NewRSSFetcher(nil), cfg.Feed, cfg.Pipeline.Version, logger),
	})
}

// resolveEpisode accepts either a numeric episode id or an external id.
func resolveEpisode(ctx context.Context, st *store.Store, ref string) (*store.Episode, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		episode, err := st.EpisodeByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if episode != nil {
			return episode, nil
		}
	}
	episode, err := st.EpisodeByExternalID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if episode == nil {
		return nil, fmt.Errorf("episode %q not found", ref)
	}
	return episode, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
