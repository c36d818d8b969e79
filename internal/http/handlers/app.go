package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"sorapixel/internal/domain"
	"sorapixel/internal/infra"
	"sorapixel/internal/ledger"
	"sorapixel/internal/middleware"
	"sorapixel/internal/pipeline"
)

// maxBodyBytes bounds request bodies; sources arrive base64 encoded.
const maxBodyBytes = 40 << 20

// Ledger is the slice of the credit ledger the HTTP layer calls directly.
type Ledger interface {
	OpenAccount(ctx context.Context, accountID string, tokens int) error
	GetBalance(ctx context.Context, accountID string) (domain.Balance, error)
	ClaimDailyReward(ctx context.Context, accountID string) (ledger.Reward, error)
	AddTokens(ctx context.Context, accountID string, amount int) (int, error)
	AdjustTokens(ctx context.Context, accountID string, delta int) (int, error)
}

// Pipelines runs the metered generation pipelines.
type Pipelines interface {
	Studio(ctx context.Context, req pipeline.StudioRequest) (*pipeline.Result, error)
	Pack(ctx context.Context, req pipeline.PackRequest) (*pipeline.Result, error)
	Recolor(ctx context.Context, req pipeline.RecolorRequest) (*pipeline.Result, error)
	HD(ctx context.Context, req pipeline.HDRequest) (*pipeline.Result, error)
	Info(ctx context.Context, req pipeline.InfoRequest) (*pipeline.Result, error)
	Listing(ctx context.Context, req pipeline.ListingRequest) (*pipeline.ListingResult, error)
	TryOn(ctx context.Context, req pipeline.TryOnRequest) (*pipeline.Result, error)
}

type App struct {
	Ledger    Ledger
	Pipelines Pipelines
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger

	validate *validator.Validate
}

func NewApp(l Ledger, p Pipelines, gatherer prometheus.Gatherer, logger *infra.Logger) *App {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	lg := infra.NopLogger()
	if logger != nil {
		lg = *logger
	}
	return &App{Ledger: l, Pipelines: p, Gatherer: gatherer, Logger: lg, validate: v}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type balanceErrorBody struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Code     string `json:"code"`
	Current  int    `json:"current"`
	Required int    `json:"required"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) ok(w http.ResponseWriter, data any) {
	a.json(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, envelope{Error: msg, Code: code})
}

// fail maps the error taxonomy onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		a.json(w, http.StatusPaymentRequired, balanceErrorBody{
			Error:    "insufficient tokens",
			Code:     insufficient.Code,
			Current:  insufficient.Current,
			Required: insufficient.Required,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "auth_required", "authentication required")
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "account not found")
	case errors.Is(err, domain.ErrGenerationFailure):
		a.error(w, http.StatusBadGateway, "generation_failed", err.Error())
	default:
		a.Logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("handlers: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a JSON body into dst and runs struct validation.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("body", "invalid JSON payload")
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.Invalid(fieldPath(fe.Namespace()), describeTag(fe))
		}
		return domain.Invalid("body", err.Error())
	}
	return nil
}

// fieldPath drops the struct name prefix from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "must have at most " + fe.Param() + " entries"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "invalid value"
	}
}

// decodeImage accepts raw base64 or a data URL and sniffs the media type.
func decodeImage(field, raw string) (pipeline.Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pipeline.Source{}, domain.Invalid(field, "required")
	}
	if strings.HasPrefix(raw, "data:") {
		if _, payload, ok := strings.Cut(raw, ","); ok {
			raw = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return pipeline.Source{}, domain.Invalid(field, "not valid base64")
	}
	if len(data) == 0 {
		return pipeline.Source{}, domain.Invalid(field, "empty image")
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return pipeline.Source{}, domain.Invalid(field, fmt.Sprintf("unsupported media type %s", mt.String()))
	}
	return pipeline.Source{Data: data, MimeType: mt.String()}, nil
}

func decodeOptionalImage(field, raw string) ([]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	src, err := decodeImage(field, raw)
	if err != nil {
		return nil, err
	}
	return src.Data, nil
}

// requestMeta is stored with every usage record for the request.
func requestMeta(r *http.Request) map[string]any {
	meta := map[string]any{
		"locale": middleware.LocaleFromContext(r.Context()),
	}
	if c := middleware.CountryFromContext(r.Context()); c != "" {
		meta["country"] = c
	}
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		meta["request_id"] = id
	}
	return meta
}

// EnsureAccount opens the caller's account on first authenticated use.
func (a *App) EnsureAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.AccountIDFromContext(r.Context())
		if id == "" {
			a.fail(w, r, domain.ErrUnauthorized)
			return
		}
		if err := a.Ledger.OpenAccount(r.Context(), id, 0); err != nil {
			a.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
