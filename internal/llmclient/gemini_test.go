// File: internal/llmclient/gemini_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
)

func geminiSuccessBody(text string) string {
	quoted, _ := json.Marshal(text)
	return `{
		"candidates": [{"content": {"parts": [{"text": ` + string(quoted) + `}], "role": "model"}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30}
	}`
}

func newTestGeminiClient(t *testing.T, endpoint string) *GeminiClient {
	t.Helper()
	client, err := NewGeminiClient(config.LLMModelConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.5-flash",
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
		MaxTokens:  1024,
		TopP:       0.9,
		TopK:       40,
	}, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMModelConfig{Model: "gemini-2.5-flash"}, 0, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestGeminiGenerateSuccess(t *testing.T) {
	var captured geminiRequestPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(geminiSuccessBody("generated rule")))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	got, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "you synthesize rules",
		UserPrompt:   "make one",
		Options:      schemas.GenerationOptions{Temperature: 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated rule", got)

	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "make one", captured.Contents[0].Parts[0].Text)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "you synthesize rules", captured.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.4, captured.GenerationConfig.Temperature, 1e-9)
	assert.Equal(t, 1024, captured.GenerationConfig.MaxOutputTokens)
}

func TestGeminiGenerateForceJSONAndSamplingOverrides(t *testing.T) {
	var captured geminiRequestPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(geminiSuccessBody("{}")))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "make one",
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			TopP:            0.5,
			TopK:            7,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
	assert.InDelta(t, 0.5, captured.GenerationConfig.TopP, 1e-6, "request options override the model defaults")
	assert.Equal(t, 7, captured.GenerationConfig.TopK)
}

func TestGeminiGenerateRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(geminiSuccessBody("after retry")))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	got, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "make one"})
	require.NoError(t, err)
	assert.Equal(t, "after retry", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeminiGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "make one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are permanent")
}

func TestGeminiGenerateNoCandidates(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "make one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiGenerateSafetyBlock(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`))
	}))
	defer server.Close()

	client := newTestGeminiClient(t, server.URL)
	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "make one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiClose(t *testing.T) {
	client := newTestGeminiClient(t, "http://unused.invalid")
	assert.NoError(t, client.Close())
}
