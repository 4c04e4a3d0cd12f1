package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"go.uber.org/zap"
)

// Gateway runs one analysis action against the model provider.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Request is a single gateway call. Images are base64 JPEG payloads as
// produced by the imaging package.
type Request struct {
	Action        Action
	Images        []string
	LocationQuery string
}

// Validate checks that the request carries the inputs its action needs.
func (r Request) Validate() error {
	if _, ok := actionNames[r.Action]; !ok {
		return fmt.Errorf("%w: unknown action", ErrInvalidRequest)
	}
	if want := r.Action.ImagesRequired(); len(r.Images) != want {
		return fmt.Errorf("%w: %s requires %d image(s), got %d", ErrInvalidRequest, r.Action, want, len(r.Images))
	}
	for i, img := range r.Images {
		if strings.TrimSpace(img) == "" {
			return fmt.Errorf("%w: image %d is empty", ErrInvalidRequest, i+1)
		}
	}
	if r.Action == ActionVenueSearch && strings.TrimSpace(r.LocationQuery) == "" {
		return fmt.Errorf("%w: %s requires a location query", ErrInvalidRequest, r.Action)
	}
	return nil
}

// Response is a tagged union: Action selects which result field is set.
type Response struct {
	Action     Action
	TokensUsed int64
	Model      string
	Latency    time.Duration

	Face       *models.FaceAnalysis
	Comparison *models.Comparison
	Morph      *models.MorphSuggestions
	Colors     *models.ColorHarmony
	Venues     []models.Venue
}

// Result returns the populated result for the response's action.
func (r *Response) Result() any {
	switch r.Action {
	case ActionSingleAnalysis:
		return r.Face
	case ActionComparisonPair:
		return r.Comparison
	case ActionMoodMorph:
		return r.Morph
	case ActionColorHarmony:
		return r.Colors
	case ActionVenueSearch:
		if r.Venues == nil {
			return []models.Venue{}
		}
		return r.Venues
	default:
		return nil
	}
}

// ProviderConfig configures a gateway built through the registry.
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	ResponseFormat string
	Temperature    float64
	Language       string
	Logger         *zap.Logger
	DebugMode      bool
}

// ProviderFactory creates a gateway from configuration
type ProviderFactory func(cfg ProviderConfig) (Gateway, error)

// ProviderRegistry maps provider names to factories
type ProviderRegistry struct {
	providers map[string]ProviderFactory
}

// NewProviderRegistry creates a registry with the OpenAI-compatible presets registered.
func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]ProviderFactory)}
	for name, preset := range presets {
		r.Register(name, openAICompatibleFactory(preset))
	}
	return r
}

// Register registers a provider factory
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.providers[strings.ToLower(name)] = factory
}

// Names lists registered providers, sorted.
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetProvider builds the named gateway. A missing API key does not fail here:
// the returned gateway rejects every call with ErrConfiguration so the rest of
// the service can still start and report health.
func (r *ProviderRegistry) GetProvider(name string, cfg ProviderConfig) (Gateway, error) {
	factory, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &unconfiguredGateway{reason: "AI_API_KEY is not set"}, nil
	}
	return factory(cfg)
}

// ErrProviderNotFound is returned when a provider is not registered
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return "AI provider not found: " + e.Name
}

type unconfiguredGateway struct {
	reason string
}

func (g *unconfiguredGateway) Invoke(_ context.Context, req Request) (*Response, error) {
	return nil, &GatewayError{Kind: ErrConfiguration, Action: req.Action, Message: g.reason}
}

// IsConfigured reports whether gw can reach a provider at all.
func IsConfigured(gw Gateway) bool {
	_, unconfigured := gw.(*unconfiguredGateway)
	return gw != nil && !unconfigured
}
