package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sorapixel/internal/domain"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Retry:   RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func imageResponse(t *testing.T, data []byte) []byte {
	t.Helper()
	resp := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{
				map[string]any{"text": "here you go"},
				map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(data)}},
			}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 1290, "totalTokenCount": 1302},
	}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return out
}

func TestGenerateSendsPromptAndReferences(t *testing.T) {
	src := testPNG(t, 8, 8)
	var got geminiGenerateContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash-image:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(imageResponse(t, src))
	})

	res, err := c.GenerateMultiRef(context.Background(), []ImageInput{{Data: src}, {Data: src, MimeType: "image/png"}}, "restore stones")
	if err != nil {
		t.Fatalf("GenerateMultiRef returned error: %v", err)
	}
	if !bytes.Equal(res.Data, src) || res.MimeType != "image/png" {
		t.Fatalf("unexpected result mime=%s len=%d", res.MimeType, len(res.Data))
	}
	if res.Usage != (domain.TokenUsage{Input: 12, Output: 1290, Total: 1302}) {
		t.Fatalf("usage mismatch: %+v", res.Usage)
	}
	parts := got.Contents[0].Parts
	if len(parts) != 3 || parts[0].Text != "restore stones" || parts[1].InlineData.MimeType != "image/png" {
		t.Fatalf("unexpected request parts: %+v", parts)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseModalities[0] != "IMAGE" {
		t.Fatalf("expected IMAGE modality: %+v", got.GenerationConfig)
	}
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	src := testPNG(t, 4, 4)
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		_, _ = w.Write(imageResponse(t, src))
	})

	if _, err := c.Generate(context.Background(), ImageInput{Data: src}, "hero"); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"The model is overloaded"}}`))
	})

	_, err := c.Generate(context.Background(), ImageInput{Data: testPNG(t, 4, 4)}, "hero")
	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Kind != KindRetryable || gerr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected retryable GenerationError, got %v", err)
	}
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatal("expected ErrGenerationFailure match")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGenerateSafetyBlockIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{},"finishReason":"IMAGE_SAFETY"}]}`))
	})

	_, err := c.Generate(context.Background(), ImageInput{Data: testPNG(t, 4, 4)}, "hero")
	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Kind != KindSafety {
		t.Fatalf("expected safety error, got %v", err)
	}
	if UserMessage(err) != SafetyHint {
		t.Fatalf("unexpected user message %q", UserMessage(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("safety errors must not retry, got %d calls", calls.Load())
	}
}

func TestGenerateValidationErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Unable to process input image"}}`))
	})
	_, err := c.Generate(context.Background(), ImageInput{Data: testPNG(t, 4, 4)}, "hero")
	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("validation errors must not retry, got %d calls", calls.Load())
	}
}

func TestGenerateRejectsNonImageReference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server must not be called")
	})
	_, err := c.Generate(context.Background(), ImageInput{Data: []byte("%PDF-1.7 not an image")}, "hero")
	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerateTextJoinsParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"title\":"},{"text":"\"Ring\"}"}]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":7,"totalTokenCount":12}}`))
	})
	res, err := c.GenerateText(context.Background(), nil, "write a listing")
	if err != nil {
		t.Fatalf("GenerateText returned error: %v", err)
	}
	if res.Text != `{"title":"Ring"}` || res.Usage.Total != 12 {
		t.Fatalf("unexpected text result: %+v", res)
	}
}

func TestOfflineClientEchoesReference(t *testing.T) {
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	src := testPNG(t, 6, 3)
	res, err := c.Generate(context.Background(), ImageInput{Data: src}, "hero")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil || cfg.Width != 6 || cfg.Height != 3 {
		t.Fatalf("unexpected offline image: %+v %v", cfg, err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		msg    string
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, "rate limited", KindRetryable},
		{http.StatusInternalServerError, "internal", KindRetryable},
		{http.StatusServiceUnavailable, "unavailable", KindRetryable},
		{http.StatusBadRequest, "request blocked by safety settings", KindSafety},
		{http.StatusBadRequest, "invalid argument", KindValidation},
		{http.StatusForbidden, "RESOURCE_EXHAUSTED quota", KindRetryable},
		{http.StatusForbidden, "permission denied", KindTerminal},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status, tt.msg); got != tt.want {
			t.Errorf("classifyStatus(%d, %q) = %s want %s", tt.status, tt.msg, got, tt.want)
		}
	}
}
