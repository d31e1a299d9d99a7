// Package genai implements the generative media collaborators against an
// OpenAI-compatible API surface: audio transcription, speech synthesis, and
// image generation. The chat model has its own richer client in
// internal/services/llm; these endpoints are simpler and share one thin
// client here.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dublaj/internal/config"
)

// Client calls the transcription, speech, and image endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	transcribe config.Transcribe
	tts        config.TTS
	imageGen   config.ImageGen
}

// Option adjusts client construction.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client from the shared connection settings and the
// per-concern stage settings.
func NewClient(llm config.LLM, transcribe config.Transcribe, tts config.TTS, imageGen config.ImageGen, opts ...Option) *Client {
	timeout := time.Duration(llm.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	// llm.base_url points at the chat completions endpoint; the media
	// endpoints hang off the same API root.
	baseURL := strings.TrimRight(llm.BaseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/chat/completions")
	c := &Client{
		baseURL:    baseURL,
		apiKey:     llm.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		transcribe: transcribe,
		tts:        tts,
		imageGen:   imageGen,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the audio file and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := writer.WriteField("model", c.transcribe.Model); err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	if c.transcribe.Language != "" {
		if err := writer.WriteField("language", c.transcribe.Language); err != nil {
			return "", fmt.Errorf("build transcription request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}

	data, err := c.post(ctx, "/audio/transcriptions", writer.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse transcription response: %w", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return "", fmt.Errorf("transcription returned no text")
	}
	return parsed.Text, nil
}

// Synthesize generates narration audio for text in the given voice, writes it
// to destPath, and returns the cost derived from the configured per-kilochar
// rate.
func (c *Client) Synthesize(ctx context.Context, text, voice, destPath string) (float64, error) {
	payload, err := json.Marshal(map[string]any{
		"model": c.tts.Model,
		"voice": voice,
		"input": text,
	})
	if err != nil {
		return 0, fmt.Errorf("build speech request: %w", err)
	}

	data, err := c.post(ctx, "/audio/speech", "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	if err := writeBinary(destPath, data); err != nil {
		return 0, err
	}

	cost := float64(len([]rune(text))) / 1000 * c.tts.CostPerKChar
	return cost, nil
}

// Generate renders one illustration for prompt, writes the PNG to destPath,
// and returns the configured per-image cost.
func (c *Client) Generate(ctx context.Context, prompt, destPath string) (float64, error) {
	payload, err := json.Marshal(map[string]any{
		"model":           c.imageGen.Model,
		"prompt":          prompt,
		"n":               1,
		"response_format": "b64_json",
	})
	if err != nil {
		return 0, fmt.Errorf("build image request: %w", err)
	}

	data, err := c.post(ctx, "/images/generations", "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("parse image response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return 0, fmt.Errorf("image generation returned no data")
	}
	image, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return 0, fmt.Errorf("decode image payload: %w", err)
	}
	if err := writeBinary(destPath, image); err != nil {
		return 0, err
	}
	return c.imageGen.CostPerImage, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func writeBinary(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create media directory: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("write media file: %w", err)
	}
	return nil
}
