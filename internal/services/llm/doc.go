// Package llm provides the OpenRouter chat completion client shared by the
// prompted pipeline stages (correct, translate, adapt, chapterize).
//
// The client retries transient failures (HTTP 408/429/5xx, timeouts, empty
// completions) with exponential backoff, honoring Retry-After headers. Token
// usage from the API response feeds per-stage cost accounting.
package llm
