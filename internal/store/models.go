package store

import (
	"strings"
	"time"
)

// EpisodeStatus represents the lifecycle of an episode.
type EpisodeStatus string

const (
	EpisodeNew             EpisodeStatus = "NEW"
	EpisodeDownloaded      EpisodeStatus = "DOWNLOADED"
	EpisodeTranscribed     EpisodeStatus = "TRANSCRIBED"
	EpisodeCorrected       EpisodeStatus = "CORRECTED"
	EpisodeTranslated      EpisodeStatus = "TRANSLATED"
	EpisodeAdapted         EpisodeStatus = "ADAPTED"
	EpisodeChapterized     EpisodeStatus = "CHAPTERIZED"
	EpisodeImagesGenerated EpisodeStatus = "IMAGES_GENERATED"
	EpisodeTTSDone         EpisodeStatus = "TTS_DONE"
	EpisodeRendered        EpisodeStatus = "RENDERED"
	EpisodeApproved        EpisodeStatus = "APPROVED"
	EpisodePublished       EpisodeStatus = "PUBLISHED"
	EpisodeCompleted       EpisodeStatus = "COMPLETED"
	EpisodeFailed          EpisodeStatus = "FAILED"
	EpisodeCostLimit       EpisodeStatus = "COST_LIMIT"
)

// orderedStatuses is the total order used by "status >= X" pre-condition checks.
// Terminal error states are not part of the progression order.
var orderedStatuses = []EpisodeStatus{
	EpisodeNew,
	EpisodeDownloaded,
	EpisodeTranscribed,
	EpisodeCorrected,
	EpisodeTranslated,
	EpisodeAdapted,
	EpisodeChapterized,
	EpisodeImagesGenerated,
	EpisodeTTSDone,
	EpisodeRendered,
	EpisodeApproved,
	EpisodePublished,
	EpisodeCompleted,
}

var statusRank = func() map[EpisodeStatus]int {
	ranks := make(map[EpisodeStatus]int, len(orderedStatuses))
	for i, status := range orderedStatuses {
		ranks[status] = i
	}
	return ranks
}()

var terminalStatuses = map[EpisodeStatus]struct{}{
	EpisodeCompleted: {},
	EpisodeFailed:    {},
	EpisodeCostLimit: {},
}

// AllEpisodeStatuses returns the ordered progression statuses followed by the
// terminal error states.
func AllEpisodeStatuses() []EpisodeStatus {
	cp := make([]EpisodeStatus, 0, len(orderedStatuses)+2)
	cp = append(cp, orderedStatuses...)
	cp = append(cp, EpisodeFailed, EpisodeCostLimit)
	return cp
}

// ParseEpisodeStatus converts a string into a known EpisodeStatus.
func ParseEpisodeStatus(value string) (EpisodeStatus, bool) {
	normalized := EpisodeStatus(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	if _, ok := statusRank[normalized]; ok {
		return normalized, true
	}
	if _, ok := terminalStatuses[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// AtLeast reports whether s is at or past other in the progression order.
// Terminal error states compare false against progression statuses.
func (s EpisodeStatus) AtLeast(other EpisodeStatus) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[other]
	return okA && okB && a >= b
}

// Before reports whether s is strictly before other in the progression order.
func (s EpisodeStatus) Before(other EpisodeStatus) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[other]
	return okA && okB && a < b
}

// IsTerminal reports whether the status ends episode processing.
func (s EpisodeStatus) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// RunStatus represents the outcome of one stage attempt.
type RunStatus string

const (
	RunRunning       RunStatus = "running"
	RunSuccess       RunStatus = "success"
	RunFailed        RunStatus = "failed"
	RunSkipped       RunStatus = "skipped"
	RunReviewPending RunStatus = "review_pending"
)

// ReviewStatus represents the state of a review task.
type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "PENDING"
	ReviewInReview         ReviewStatus = "IN_REVIEW"
	ReviewApproved         ReviewStatus = "APPROVED"
	ReviewRejected         ReviewStatus = "REJECTED"
	ReviewChangesRequested ReviewStatus = "CHANGES_REQUESTED"
)

// IsOpen reports whether a task still accepts decisions.
func (s ReviewStatus) IsOpen() bool {
	return s == ReviewPending || s == ReviewInReview
}

// DecisionKind is an outcome applied to a review task.
type DecisionKind string

const (
	DecisionApproved         DecisionKind = "approved"
	DecisionRejected         DecisionKind = "rejected"
	DecisionChangesRequested DecisionKind = "changes_requested"
)

// MediaAssetType classifies binary media outputs.
type MediaAssetType string

const (
	AssetImage MediaAssetType = "IMAGE"
	AssetAudio MediaAssetType = "AUDIO"
	AssetVideo MediaAssetType = "VIDEO"
)

// Episode is a unit of work persisted in SQLite. Never destroyed; terminal
// states retain the record for audit.
type Episode struct {
	ID              int64
	ExternalID      string
	ChannelID       string
	Title           string
	DurationSeconds float64
	SourceURL       string
	Status          EpisodeStatus
	PipelineVersion int
	AudioPath       string
	TranscriptPath  string
	OutputDir       string
	VideoID         string
	RetryCount      int
	ErrorMessage    string
	DetectedAt      time.Time
	UpdatedAt       time.Time
}

// PipelineRun is one record per attempt of one stage on one episode.
// Append-only; never mutated after a terminal run status.
type PipelineRun struct {
	ID           int64
	EpisodeID    int64
	Stage        string
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	ErrorMessage string
}

// ContentArtifact records a file produced by a stage. Immutable after creation;
// a regenerated file gets a fresh record.
type ContentArtifact struct {
	ID           int64
	EpisodeID    int64
	ArtifactType string
	Path         string
	Model        string
	PromptHash   string
	CreatedAt    time.Time
}

// MediaAsset is a specialization for binary media outputs.
type MediaAsset struct {
	ID              int64
	EpisodeID       int64
	AssetType       MediaAssetType
	ChapterID       string
	Path            string
	MimeType        string
	SizeBytes       int64
	DurationSeconds *float64
	Metadata        map[string]string
	PromptVersionID *int64
	CreatedAt       time.Time
}

// PromptVersion is a registered prompt template revision.
type PromptVersion struct {
	ID           int64
	Name         string
	Version      int
	ContentHash  string
	TemplatePath string
	Model        string
	Temperature  float64
	MaxTokens    int
	IsDefault    bool
	CreatedAt    time.Time
	Notes        string
}

// ReviewTask is a human-review gate for one stage on one episode.
type ReviewTask struct {
	ID              int64
	EpisodeID       int64
	Stage           string
	Status          ReviewStatus
	ArtifactPaths   []string
	DiffPath        string
	PromptVersionID *int64
	CreatedAt       time.Time
	ReviewedAt      *time.Time
	Notes           string
	ArtifactHash    string
}

// PrimaryArtifact returns the canonical primary artifact under review.
func (t *ReviewTask) PrimaryArtifact() string {
	if t == nil || len(t.ArtifactPaths) == 0 {
		return ""
	}
	return t.ArtifactPaths[0]
}

// ReviewDecision is an append-only log entry for an outcome applied to a task.
type ReviewDecision struct {
	ID        int64
	TaskID    int64
	Decision  DecisionKind
	Notes     string
	DecidedAt time.Time
}

// Channel is a source feed channel.
type Channel struct {
	ID        int64
	ChannelID string
	Name      string
	FeedURL   string
	CreatedAt time.Time
}

// PublishJob records an external publishing attempt.
type PublishJob struct {
	ID          int64
	EpisodeID   int64
	Platform    string
	VideoID     string
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// StageCost aggregates run cost per stage for cost reports.
type StageCost struct {
	Stage   string
	Runs    int
	CostUSD float64
}
