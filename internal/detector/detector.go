// Package detector polls the configured source feed and registers episodes
// that have not been seen before. Detection only creates NEW episode records;
// the orchestrator picks them up on its next pass.
package detector

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dublaj/internal/config"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/store"
)

// FeedItem is one episode entry of a source feed.
type FeedItem struct {
	ExternalID      string
	Title           string
	AudioURL        string
	DurationSeconds float64
	PublishedAt     time.Time
}

// Feed is a fetched source feed with its channel identity.
type Feed struct {
	ChannelID   string
	ChannelName string
	Items       []FeedItem
}

// Fetcher retrieves a source feed. The RSS implementation in this package is
// the default; tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (*Feed, error)
}

// Service detects new episodes from the configured feed.
type Service struct {
	store           *store.Store
	fetcher         Fetcher
	cfg             config.Feed
	pipelineVersion int
	logger          *slog.Logger
}

// NewService builds a detector. New episodes are created on the given
// pipeline version.
func NewService(st *store.Store, fetcher Fetcher, cfg config.Feed, pipelineVersion int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, fetcher: fetcher, cfg: cfg, pipelineVersion: pipelineVersion, logger: logger}
}

// DetectNew fetches the feed, refreshes the channel record, and creates a NEW
// episode for every item not registered yet. Already-known items are left
// untouched regardless of their lifecycle state.
func (s *Service) DetectNew(ctx context.Context) ([]*store.Episode, error) {
	if strings.TrimSpace(s.cfg.URL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "detect", "feed url is not configured", nil)
	}

	feed, err := s.fetcher.Fetch(ctx, s.cfg.URL)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "", "detect", "fetch feed "+s.cfg.URL, err)
	}

	channelID := feed.ChannelID
	if channelID == "" {
		channelID = s.cfg.ChannelID
	}
	if channelID != "" {
		if err := s.store.UpsertChannel(ctx, &store.Channel{
			ChannelID: channelID,
			Name:      feed.ChannelName,
			FeedURL:   s.cfg.URL,
		}); err != nil {
			return nil, err
		}
	}

	var created []*store.Episode
	for _, item := range feed.Items {
		if item.ExternalID == "" || item.AudioURL == "" {
			s.logger.Warn("feed item missing id or audio url, skipping",
				logging.String("title", item.Title))
			continue
		}

		existing, err := s.store.EpisodeByExternalID(ctx, item.ExternalID)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		episode := &store.Episode{
			ExternalID:      item.ExternalID,
			ChannelID:       channelID,
			Title:           item.Title,
			DurationSeconds: item.DurationSeconds,
			SourceURL:       item.AudioURL,
			PipelineVersion: s.pipelineVersion,
			DetectedAt:      item.PublishedAt,
		}
		if err := s.store.CreateEpisode(ctx, episode); err != nil {
			return created, err
		}
		created = append(created, episode)
		s.logger.Info("new episode detected",
			logging.Int64(logging.FieldEpisodeID, episode.ID),
			logging.String("external_id", episode.ExternalID),
			logging.String("title", episode.Title))
	}
	return created, nil
}
