package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_DefaultModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", NewOpenAIProvider("k", "", "", 0).DefaultModel())
	assert.Equal(t, "gpt-4o-mini", NewOpenAIProvider("k", "", "gpt-4o-mini", 0).DefaultModel())
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "Hello, world!"}, FinishReason: "stop"}},
			Usage:   Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL+"/", "test-model", 0)
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages:    []Message{{Role: "user", Content: "Hello"}},
		MaxTokens:   100,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, float64(100), got["max_tokens"])
	msgs := got["messages"].([]any)
	assert.Equal(t, "Hello", msgs[0].(map[string]any)["content"])
}

func TestOpenAIProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	_, err := NewOpenAIProvider("k", server.URL, "m", 0).Chat(context.Background(), &ChatRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := NewOpenAIProvider("k", server.URL, "m", 0).Chat(context.Background(), &ChatRequest{})
	assert.ErrorContains(t, err, "no choices")
}

func TestConvertMessagesWithImages(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "system", Content: "describe"},
		{Role: "user", Content: "what is this", Images: []Image{
			{Data: []byte("abc"), MimeType: "image/png"},
			{URL: "https://example.com/a.gif"},
		}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "describe", out[0]["content"])

	parts := out[1]["content"].([]map[string]any)
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, "data:image/png;base64,YWJj", parts[1]["image_url"].(map[string]any)["url"])
	assert.Equal(t, "https://example.com/a.gif", parts[2]["image_url"].(map[string]any)["url"])
}
