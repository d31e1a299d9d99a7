package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dublaj/internal/config"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(
		config.LLM{APIKey: "test-key", BaseURL: server.URL, TimeoutSeconds: 5},
		config.Transcribe{Model: "whisper-1", Language: "de"},
		config.TTS{Model: "tts-1", CostPerKChar: 0.015},
		config.ImageGen{Model: "image-1", CostPerImage: 0.04},
		WithHTTPClient(server.Client()),
	)
}

func TestTranscribeSendsMultipartAndParsesText(t *testing.T) {
	var gotModel, gotLanguage, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			file.Close()
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "Willkommen zur Folge."})
	}))
	defer server.Close()

	audioPath := filepath.Join(t.TempDir(), "audio.m4a")
	if err := os.WriteFile(audioPath, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	text, err := newTestClient(server).Transcribe(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "Willkommen zur Folge." {
		t.Fatalf("unexpected transcript %q", text)
	}
	if gotModel != "whisper-1" || gotLanguage != "de" {
		t.Fatalf("unexpected form values model=%q language=%q", gotModel, gotLanguage)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestTranscribeRejectsEmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  "})
	}))
	defer server.Close()

	audioPath := filepath.Join(t.TempDir(), "audio.m4a")
	if err := os.WriteFile(audioPath, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	if _, err := newTestClient(server).Transcribe(context.Background(), audioPath); err == nil {
		t.Fatal("expected an error for an empty transcript")
	}
}

func TestSynthesizeWritesAudioAndPricesPerKChar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["voice"] != "onyx" || payload["model"] != "tts-1" {
			t.Errorf("unexpected payload %v", payload)
		}
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "chapters", "giris.mp3")
	text := strings.Repeat("a", 2000)
	cost, err := newTestClient(server).Synthesize(context.Background(), text, "onyx", destPath)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if cost != 0.03 {
		t.Fatalf("expected cost 0.03 for 2000 chars, got %f", cost)
	}
	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Fatalf("unexpected clip content %q", data)
	}
}

func TestGenerateDecodesImageAndReportsFlatCost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		encoded := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": encoded}},
		})
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "chapters", "giris.png")
	cost, err := newTestClient(server).Generate(context.Background(), "Bir radyo stüdyosu", destPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if cost != 0.04 {
		t.Fatalf("expected flat cost 0.04, got %f", cost)
	}
	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected image content %q", data)
	}
}

func TestPostSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).Generate(context.Background(), "prompt", filepath.Join(t.TempDir(), "x.png"))
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Fatalf("expected a status error, got %v", err)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(config.LLM{BaseURL: "http://localhost:0"}, config.Transcribe{}, config.TTS{}, config.ImageGen{})
	if _, err := client.Generate(context.Background(), "prompt", filepath.Join(t.TempDir(), "x.png")); err == nil {
		t.Fatal("expected an error without an api key")
	}
}
