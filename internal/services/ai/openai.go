package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/glowlens/internal/imaging"
	"github.com/benvon/glowlens/internal/models"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds a whole Invoke call, including both halves of a comparison.
	DefaultTimeout = 60 * time.Second
	// DefaultTemperature keeps analyses reasonably stable between calls.
	DefaultTemperature = 0.3
	// DefaultLanguage is the language the model writes result text in.
	DefaultLanguage = "Persian"

	ResponseFormatJSONSchema = "json_schema"
	ResponseFormatJSONObject = "json_object"

	// ErrNoChoicesInResponse is reported when the API response has no choices
	ErrNoChoicesInResponse = "no choices in response"
)

type preset struct {
	BaseURL string
	Model   string
}

// Every supported backend speaks the OpenAI chat-completions protocol; a preset
// only supplies defaults.
var presets = map[string]preset{
	"openai": {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	"avalai": {BaseURL: "https://api.avalai.ir/v1", Model: "gemini-2.5-flash"},
	"gemini": {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/", Model: "gemini-2.5-flash"},
}

func openAICompatibleFactory(p preset) ProviderFactory {
	return func(cfg ProviderConfig) (Gateway, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = p.BaseURL
		}
		if cfg.Model == "" {
			cfg.Model = p.Model
		}
		return NewOpenAIGateway(cfg), nil
	}
}

type actionSpec struct {
	prompt     string
	schemaName string
	schema     func() map[string]any
	parse      func(action Action, content string, into *Response) error
}

var actionSpecs = map[Action]actionSpec{
	ActionSingleAnalysis: {
		prompt:     "single_analysis.txt",
		schemaName: "face_analysis",
		schema:     faceAnalysisSchema,
		parse: func(a Action, c string, r *Response) (err error) {
			r.Face, err = parseFaceAnalysis(a, c)
			return err
		},
	},
	ActionMoodMorph: {
		prompt:     "mood_morph.txt",
		schemaName: "morph_suggestions",
		schema:     morphSchema,
		parse: func(a Action, c string, r *Response) (err error) {
			r.Morph, err = parseMorph(a, c)
			return err
		},
	},
	ActionColorHarmony: {
		prompt:     "color_harmony.txt",
		schemaName: "color_harmony",
		schema:     colorHarmonySchema,
		parse: func(a Action, c string, r *Response) (err error) {
			r.Colors, err = parseColorHarmony(a, c)
			return err
		},
	},
	ActionVenueSearch: {
		prompt:     "venue_search.txt",
		schemaName: "venue_list",
		schema:     venueSchema,
		parse: func(a Action, c string, r *Response) (err error) {
			r.Venues, err = parseVenues(a, c)
			return err
		},
	},
}

// OpenAIGateway implements Gateway against any OpenAI-compatible endpoint.
type OpenAIGateway struct {
	client         openai.Client
	model          string
	timeout        time.Duration
	responseFormat string
	temperature    float64
	language       string
	logger         *zap.Logger
	debugMode      bool
}

// NewOpenAIGateway creates a gateway. Automatic retries are disabled: a retry is
// always a user decision.
func NewOpenAIGateway(cfg ProviderConfig, opts ...option.RequestOption) *OpenAIGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = presets["openai"].BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = presets["openai"].Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = ResponseFormatJSONSchema
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIGateway{
		client:         openai.NewClient(clientOpts...),
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		responseFormat: cfg.ResponseFormat,
		temperature:    cfg.Temperature,
		language:       cfg.Language,
		logger:         cfg.Logger,
		debugMode:      cfg.DebugMode,
	}
}

// Model returns the configured model name.
func (g *OpenAIGateway) Model() string { return g.model }

// Invoke runs the request under the gateway timeout.
func (g *OpenAIGateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	var (
		resp *Response
		err  error
	)
	if req.Action == ActionComparisonPair {
		resp, err = g.compare(ctx, req.Images[0], req.Images[1])
	} else {
		resp, err = g.run(ctx, req.Action, req.Images, req.LocationQuery)
	}
	if err != nil {
		return nil, err
	}
	resp.Latency = time.Since(start)
	return resp, nil
}

// compare runs two single-face analyses concurrently. The first failure cancels
// the other call and fails the comparison.
func (g *OpenAIGateway) compare(ctx context.Context, first, second string) (*Response, error) {
	var a, b *Response
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		a, err = g.run(egCtx, ActionSingleAnalysis, []string{first}, "")
		return err
	})
	eg.Go(func() (err error) {
		b, err = g.run(egCtx, ActionSingleAnalysis, []string{second}, "")
		return err
	})
	if err := eg.Wait(); err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			tagged := *gwErr
			tagged.Action = ActionComparisonPair
			return nil, &tagged
		}
		return nil, err
	}

	return &Response{
		Action:     ActionComparisonPair,
		TokensUsed: a.TokensUsed + b.TokensUsed,
		Model:      g.model,
		Comparison: &models.Comparison{First: *a.Face, Second: *b.Face},
	}, nil
}

func (g *OpenAIGateway) run(ctx context.Context, action Action, images []string, location string) (*Response, error) {
	spec, ok := actionSpecs[action]
	if !ok {
		return nil, &GatewayError{Kind: ErrUnknown, Action: action, Message: "no handler for action"}
	}

	content, tokens, err := g.complete(ctx, action, spec, images, location)
	if err != nil {
		return nil, err
	}

	resp := &Response{Action: action, TokensUsed: tokens, Model: g.model}
	if err := spec.parse(action, content, resp); err != nil {
		g.logger.Warn("llm_response_rejected",
			zap.String("action", action.String()),
			zap.String("model", g.model),
			zap.String("prompt_version", PromptVersion),
			zap.String("request_id", ExtractRequestID(ctx)),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (g *OpenAIGateway) complete(ctx context.Context, action Action, spec actionSpec, images []string, location string) (string, int64, error) {
	prompt, err := renderPrompt(spec.prompt, promptData{Language: g.language, Location: cleanLocation(location)})
	if err != nil {
		return "", 0, &GatewayError{Kind: ErrUnknown, Action: action, Err: err}
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	parts = append(parts, openai.TextContentPart(prompt))
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: imaging.DataURL(img),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:          shared.ChatModel(g.model),
		Messages:       []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		Temperature:    openai.Float(g.temperature),
		ResponseFormat: g.responseFormatParam(spec),
	}

	requestID := ExtractRequestID(ctx)
	userID := ExtractUserID(ctx)
	if g.debugMode {
		g.logger.Debug("llm_api_request",
			zap.String("action", action.String()),
			zap.String("model", g.model),
			zap.String("prompt_version", PromptVersion),
			zap.Int("image_count", len(images)),
			zap.String("prompt_preview", SanitizePrompt(prompt, true)),
			zap.String("user_id", userID),
			zap.String("request_id", requestID),
		)
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		gwErr := classifyError(action, err)
		g.logger.Warn("llm_api_error",
			zap.String("action", action.String()),
			zap.String("model", g.model),
			zap.String("kind", gwErr.Kind.Error()),
			zap.Int("status_code", gwErr.StatusCode),
			zap.String("user_id", userID),
			zap.String("request_id", requestID),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.Error(err),
		)
		return "", 0, gwErr
	}

	if len(resp.Choices) == 0 {
		return "", 0, formatError(action, ErrNoChoicesInResponse, nil)
	}
	choice := resp.Choices[0]
	finish := string(choice.FinishReason)
	if strings.EqualFold(finish, "content_filter") || strings.EqualFold(finish, "safety") {
		return "", 0, safetyBlocked(action, finish)
	}
	if choice.Message.Refusal != "" {
		return "", 0, &GatewayError{Kind: ErrSafetyBlocked, Action: action, Message: choice.Message.Refusal}
	}

	content := strings.TrimSpace(choice.Message.Content)
	if g.debugMode {
		g.logger.Debug("llm_api_response",
			zap.String("action", action.String()),
			zap.String("model", g.model),
			zap.String("finish_reason", finish),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", SanitizeResponse(content, true)),
			zap.Int64("total_tokens", resp.Usage.TotalTokens),
			zap.String("user_id", userID),
			zap.String("request_id", requestID),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}
	if content == "" {
		return "", 0, formatError(action, "empty response", nil)
	}
	return content, resp.Usage.TotalTokens, nil
}

func (g *OpenAIGateway) responseFormatParam(spec actionSpec) openai.ChatCompletionNewParamsResponseFormatUnion {
	if g.responseFormat == ResponseFormatJSONObject {
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   spec.schemaName,
				Schema: spec.schema(),
				Strict: openai.Bool(true),
			},
		},
	}
}
