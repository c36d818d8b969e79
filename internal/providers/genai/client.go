package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	// Decoders for generator output and synthetic passthrough.
	_ "image/jpeg"

	"sorapixel/internal/domain"
	"sorapixel/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	TextModel  string
	HTTPClient *http.Client
	Retry      RetryPolicy
	// RequestsPerSecond caps outbound calls across all pipelines. Zero
	// disables the limiter.
	RequestsPerSecond float64
	Metrics           *infra.Metrics
	Logger            *infra.Logger
}

// Client is the generator adapter over the Gemini generateContent API. Without
// an API key it runs offline and echoes the first reference image so local
// environments exercise the full pipeline.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	textModel  string
	httpClient *http.Client
	retry      RetryPolicy
	limiter    *rate.Limiter
	metrics    *infra.Metrics
	logger     zerolog.Logger
}

// ImageInput is one reference image.
type ImageInput struct {
	Data     []byte
	MimeType string
}

// ImageResult is a generated image.
type ImageResult struct {
	Data     []byte
	MimeType string
	Text     string
	Usage    domain.TokenUsage
	Model    string
}

// TextResult is generated text.
type TextResult struct {
	Text  string
	Usage domain.TokenUsage
	Model string
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	UsageMetadata  *geminiUsageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with defaults for anything unset.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: parse base url: %w", err)
	}

	imageModel := firstNonEmpty(opts.ImageModel, "gemini-2.5-flash-image")
	textModel := firstNonEmpty(opts.TextModel, "gemini-2.5-flash")

	retryPolicy := opts.Retry
	if retryPolicy.BaseDelay <= 0 {
		retryPolicy = DefaultRetryPolicy
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 3 {
			burst = 3
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageModel: imageModel,
		textModel:  textModel,
		httpClient: client,
		retry:      retryPolicy,
		limiter:    limiter,
		metrics:    opts.Metrics,
		logger:     logger,
	}, nil
}

// ImageModel returns the model used for image generation.
func (c *Client) ImageModel() string { return c.imageModel }

// TextModel returns the model used for text generation.
func (c *Client) TextModel() string { return c.textModel }

// Offline reports whether the client runs without an API key.
func (c *Client) Offline() bool { return c.apiKey == "" }

// Generate produces one image from a single reference image and a prompt.
func (c *Client) Generate(ctx context.Context, img ImageInput, prompt string) (*ImageResult, error) {
	return c.GenerateMultiRef(ctx, []ImageInput{img}, prompt)
}

// GenerateMultiRef produces one image from several reference images. The
// order of refs is preserved in the request.
func (c *Client) GenerateMultiRef(ctx context.Context, refs []ImageInput, prompt string) (*ImageResult, error) {
	parts, err := buildParts(refs, prompt)
	if err != nil {
		return nil, err
	}
	if c.Offline() {
		return c.offlineImage(refs)
	}

	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}
	op := "image"
	if len(refs) > 1 {
		op = "image_multi_ref"
	}
	return retry(ctx, c.retry, c.notify(op), func() (*ImageResult, error) {
		res, err := c.generateImageOnce(ctx, payload)
		c.record(op, err)
		return res, err
	})
}

// GenerateText produces text from optional reference images and a prompt.
func (c *Client) GenerateText(ctx context.Context, refs []ImageInput, prompt string) (*TextResult, error) {
	parts, err := buildParts(refs, prompt)
	if err != nil {
		return nil, err
	}
	if c.Offline() {
		return nil, &GenerationError{Kind: KindTerminal, Message: "genai: text generation requires GEMINI_API_KEY"}
	}
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{ResponseMimeType: "application/json"},
	}
	return retry(ctx, c.retry, c.notify("text"), func() (*TextResult, error) {
		res, err := c.generateTextOnce(ctx, payload)
		c.record("text", err)
		return res, err
	})
}

func (c *Client) generateImageOnce(ctx context.Context, payload geminiGenerateContentRequest) (*ImageResult, error) {
	var resp geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.imageModel, payload, &resp); err != nil {
		return nil, err
	}
	parts, err := responseParts(resp)
	if err != nil {
		return nil, err
	}

	result := &ImageResult{Model: c.imageModel, Usage: usageOf(resp.UsageMetadata)}
	for _, part := range parts {
		if part.Text != "" {
			result.Text = part.Text
			continue
		}
		data, mime, err := decodeInline(part)
		if err != nil {
			return nil, &GenerationError{Kind: KindTerminal, Message: err.Error(), Err: err}
		}
		if len(data) > 0 {
			result.Data, result.MimeType = data, mime
		}
	}
	if len(result.Data) == 0 {
		msg := "Gemini did not return an image. Response: " + firstNonEmpty(result.Text, "empty")
		return nil, &GenerationError{Kind: KindTerminal, Message: msg}
	}
	return result, nil
}

func (c *Client) generateTextOnce(ctx context.Context, payload geminiGenerateContentRequest) (*TextResult, error) {
	var resp geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.textModel, payload, &resp); err != nil {
		return nil, err
	}
	parts, err := responseParts(resp)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, &GenerationError{Kind: KindTerminal, Message: "Gemini returned an empty text response"}
	}
	return &TextResult{Text: text, Usage: usageOf(resp.UsageMetadata), Model: c.textModel}, nil
}

func (c *Client) invokeGemini(ctx context.Context, model string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &GenerationError{Kind: KindTerminal, Message: "genai: rate limiter: " + err.Error(), Err: err}
	}

	endpoint := c.baseURL + fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GenerationError{Kind: classifyTransport(err), Message: "invoke gemini: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(data))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = strings.TrimSpace(apiErr.Error.Status + " " + apiErr.Error.Message)
		}
		kind := classifyStatus(resp.StatusCode, msg)
		gerr := &GenerationError{Kind: kind, Status: resp.StatusCode, Message: fmt.Sprintf("gemini status %d: %s", resp.StatusCode, msg)}
		if kind == KindSafety {
			gerr.Hint = SafetyHint
		}
		return gerr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GenerationError{Kind: KindRetryable, Message: "decode gemini response: " + err.Error(), Err: err}
	}
	return nil
}

// responseParts returns the first candidate's parts, mapping empty or
// blocked responses onto a safety failure.
func responseParts(resp geminiGenerateContentResponse) ([]geminiPart, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, &GenerationError{Kind: KindSafety, Message: "prompt blocked: " + resp.PromptFeedback.BlockReason, Hint: SafetyHint}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		msg := "no content"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			msg = "no content, finish reason " + resp.Candidates[0].FinishReason
		}
		return nil, &GenerationError{Kind: KindSafety, Message: msg, Hint: SafetyHint}
	}
	if isSafetyFinish(resp.Candidates[0].FinishReason) {
		return nil, &GenerationError{Kind: KindSafety, Message: "finish reason " + resp.Candidates[0].FinishReason, Hint: SafetyHint}
	}
	return resp.Candidates[0].Content.Parts, nil
}

func buildParts(refs []ImageInput, prompt string) ([]geminiPart, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &GenerationError{Kind: KindValidation, Message: "prompt is required"}
	}
	parts := []geminiPart{{Text: prompt}}
	for i, ref := range refs {
		if len(ref.Data) == 0 {
			return nil, &GenerationError{Kind: KindValidation, Message: fmt.Sprintf("reference image %d is empty", i)}
		}
		mime := DetectImageMIME(ref.Data, ref.MimeType)
		if mime == "" {
			return nil, &GenerationError{Kind: KindValidation, Message: fmt.Sprintf("reference image %d is not an image", i)}
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(ref.Data),
		}})
	}
	return parts, nil
}

// DetectImageMIME sniffs data and returns its image MIME type, or "" when the
// bytes are not an image. A declared image type is trusted only if sniffing
// is inconclusive.
func DetectImageMIME(data []byte, declared string) string {
	detected := mimetype.Detect(data)
	if strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	if strings.HasPrefix(declared, "image/") && detected.Is("application/octet-stream") {
		return declared
	}
	return ""
}

func decodeInline(part geminiPart) ([]byte, string, error) {
	if part.InlineData == nil || part.InlineData.Data == "" {
		return nil, "", nil
	}
	data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode inline data: %w", err)
	}
	mime := part.InlineData.MimeType
	if mime == "" {
		mime = firstNonEmpty(DetectImageMIME(data, ""), "image/png")
	}
	return data, mime, nil
}

func usageOf(meta *geminiUsageMetadata) domain.TokenUsage {
	if meta == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		Input:  meta.PromptTokenCount,
		Output: meta.CandidatesTokenCount,
		Total:  meta.TotalTokenCount,
	}
}

// offlineImage echoes the first reference as PNG.
func (c *Client) offlineImage(refs []ImageInput) (*ImageResult, error) {
	img, _, err := image.Decode(bytes.NewReader(refs[0].Data))
	if err != nil {
		return nil, &GenerationError{Kind: KindValidation, Message: "decode reference image: " + err.Error(), Err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &GenerationError{Kind: KindTerminal, Message: "encode offline image: " + err.Error(), Err: err}
	}
	c.logger.Debug().Str("model", c.imageModel).Msg("genai: offline passthrough image")
	return &ImageResult{Data: buf.Bytes(), MimeType: "image/png", Model: "offline"}, nil
}

func (c *Client) notify(op string) func(error, time.Duration) {
	return func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("genai: call failed, retrying")
	}
}

func (c *Client) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if gerr, ok := err.(*GenerationError); ok {
			outcome = string(gerr.Kind)
		}
	}
	c.metrics.GeneratorCall(op, outcome)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
