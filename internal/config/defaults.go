package config

const (
	defaultDataRoot   = "~/.local/share/dublaj/data"
	defaultLogDir     = "~/.local/share/dublaj/logs"
	defaultPromptsDir = "~/.config/dublaj/prompts"

	defaultPipelineVersion   = 2
	defaultMaxEpisodeCostUSD = 5.0
	defaultMaxRetries        = 3
	defaultRunPendingLimit   = 3

	defaultAutoApproveMaxChanges = 5

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMTimeoutSeconds = 120

	defaultTranscribeModel    = "large-v3-turbo"
	defaultTranscribeLanguage = "de"

	defaultTTSVoice = "alloy"
	defaultTTSModel = "tts-1-hd"

	defaultImageGenModel = "dall-e-3"

	defaultSegmentTimeoutSeconds = 300
	defaultConcatTimeoutSeconds  = 600

	defaultPublishPlatform = "youtube"
	defaultPrivacyStatus   = "private"

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataRoot:   defaultDataRoot,
			LogDir:     defaultLogDir,
			PromptsDir: defaultPromptsDir,
		},
		Pipeline: Pipeline{
			Version:           defaultPipelineVersion,
			MaxEpisodeCostUSD: defaultMaxEpisodeCostUSD,
			MaxRetries:        defaultMaxRetries,
			RunPendingLimit:   defaultRunPendingLimit,
		},
		Review: Review{
			AutoApproveMaxChanges: defaultAutoApproveMaxChanges,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Transcribe: Transcribe{
			Model:    defaultTranscribeModel,
			Language: defaultTranscribeLanguage,
		},
		TTS: TTS{
			Voice: defaultTTSVoice,
			Model: defaultTTSModel,
		},
		ImageGen: ImageGen{
			Model: defaultImageGenModel,
		},
		Render: Render{
			SegmentTimeoutSeconds: defaultSegmentTimeoutSeconds,
			ConcatTimeoutSeconds:  defaultConcatTimeoutSeconds,
		},
		Publish: Publish{
			Platform:      defaultPublishPlatform,
			PrivacyStatus: defaultPrivacyStatus,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
