package stage

import "context"

// AudioDownloader fetches an episode's source audio to a local path.
type AudioDownloader interface {
	Download(ctx context.Context, sourceURL, destPath string) error
}

// Transcriber turns an audio file into German text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// ChatRequest is one completion request against the configured LLM.
type ChatRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ChatResponse carries the completion text and token accounting.
type ChatResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// ChatModel is the LLM backend used by the correction, translation,
// adaptation, and chapterization stages.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ImageGenerator renders a chapter illustration to destPath and reports the
// per-image cost in USD.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, destPath string) (float64, error)
}

// SpeechSynthesizer produces Turkish narration audio for a chapter and
// reports the synthesis cost in USD.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice, destPath string) (float64, error)
}

// SegmentSpec is one chapter's inputs for video rendering.
type SegmentSpec struct {
	ChapterID string
	ImagePath string
	AudioPath string
}

// VideoRenderer builds per-chapter video segments and concatenates them into
// the draft video.
type VideoRenderer interface {
	RenderSegment(ctx context.Context, spec SegmentSpec, destPath string) error
	Concat(ctx context.Context, segmentPaths []string, destPath string) error
}

// UploadRequest describes the video handed to the publishing platform.
type UploadRequest struct {
	VideoPath   string
	Title       string
	Description string
	Chapters    string
}

// Uploader publishes the rendered video and returns the remote video id.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (string, error)
}
