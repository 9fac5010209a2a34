package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/internal/recommendation"
	"github.com/wolfman30/restaurant-chatbot/internal/weather"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// Response methods.
const (
	ResponseTemplate       = "template"
	ResponseRecommendation = "recommendation"
	ResponseLLM            = "llm"
	ResponseFallback       = "fallback"
)

const (
	fallbackConfidence = 0.5
	llmHistoryTurns    = 10
)

// Suggestion is a quick reply or a recommended dish shown under the reply.
type Suggestion struct {
	Type   string  `json:"type"`
	Text   string  `json:"text"`
	DishID string  `json:"dish_id,omitempty"`
	Price  float64 `json:"price,omitempty"`
}

func quickReplies(texts ...string) []Suggestion {
	out := make([]Suggestion, 0, len(texts))
	for _, t := range texts {
		out = append(out, Suggestion{Type: "quick_reply", Text: t})
	}
	return out
}

// GenerateInput is the per-turn view the generator works from.
type GenerateInput struct {
	Message string
	Intent  IntentResult
	// Entities are the conversation entities merged with this turn's.
	Entities    Entities
	History     []HistoryEntry
	Preferences map[string]string
	Restaurant  *catalog.RestaurantContext
	Menu        *catalog.MenuSummary
	Dishes      []catalog.Dish
	Customer    *catalog.CustomerPreferences
	Weather     *weather.Conditions
	Now         time.Time
}

// GeneratedResponse is the reply plus its side-channel metadata.
type GeneratedResponse struct {
	Text           string
	Method         string
	Confidence     float64
	Suggestions    []Suggestion
	Recommendation *recommendation.Result
}

// ResponseGenerator routes each intent to the cheapest adequate strategy.
type ResponseGenerator struct {
	llm     Chatter
	engine  *recommendation.Engine
	logger  *logging.Logger
	metrics *metrics.ChatbotMetrics
}

func NewResponseGenerator(llm Chatter, engine *recommendation.Engine, logger *logging.Logger, m *metrics.ChatbotMetrics) *ResponseGenerator {
	if engine == nil {
		engine = recommendation.NewEngine()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResponseGenerator{llm: llm, engine: engine, logger: logger, metrics: m}
}

func (g *ResponseGenerator) Generate(ctx context.Context, in GenerateInput) GeneratedResponse {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	intent := in.Intent.Intent
	switch {
	case intent == IntentEscalation:
		return GeneratedResponse{Text: HandoffMessage, Method: ResponseTemplate, Confidence: 1.0}
	case intent == IntentRecommendation:
		return g.recommend(in)
	case intent.IsFAQ():
		return GeneratedResponse{
			Text:        FAQResponse(intent, in.Restaurant, in.Menu),
			Method:      ResponseTemplate,
			Confidence:  in.Intent.Confidence,
			Suggestions: quickReplies("Recommend a dish", "Show me the menu"),
		}
	case intent.IsOrder():
		return GeneratedResponse{
			Text:        OrderResponse(intent, in.Entities),
			Method:      ResponseTemplate,
			Confidence:  in.Intent.Confidence,
			Suggestions: quickReplies("Talk to staff", "Recommend a dish"),
		}
	default:
		return g.converse(ctx, in)
	}
}

// RecommendationRequest builds the engine request from conversation state.
func RecommendationRequest(in GenerateInput) recommendation.Request {
	spice := in.Entities.SpiceTolerance
	if spice == "" {
		spice = in.Preferences[PrefSpiceTolerance]
	}
	meal := in.Entities.MealTime
	if meal == "" {
		meal = mealForPeriod(dayPeriod(in.Now))
	}
	return recommendation.Request{
		Dishes:           in.Dishes,
		Customer:         in.Customer,
		Dietary:          in.Entities.Dietary,
		LearnedDietary:   in.Preferences[PrefDietaryPreference],
		FavoriteCategory: in.Preferences[PrefFavoriteCategory],
		SpiceTolerance:   spice,
		MaxPrice:         in.Entities.PriceMax,
		MealType:         meal,
		Weather:          in.Weather,
		N:                recommendation.DefaultLimit,
	}
}

func (g *ResponseGenerator) recommend(in GenerateInput) GeneratedResponse {
	result := g.engine.Generate(RecommendationRequest(in))
	if result.Empty() {
		g.metrics.ObserveEmptyRecommendation()
		return GeneratedResponse{
			Text:           EmptyRecommendationResponse(result.Message),
			Method:         ResponseRecommendation,
			Confidence:     in.Intent.Confidence,
			Suggestions:    quickReplies("Raise my budget", "Show all dishes", "Show me the menu"),
			Recommendation: &result,
		}
	}

	suggestions := make([]Suggestion, 0, len(result.Dishes)+1)
	for _, d := range result.Dishes {
		suggestions = append(suggestions, Suggestion{Type: "dish", Text: d.Name, DishID: d.ID, Price: d.Price})
	}
	suggestions = append(suggestions, quickReplies("Show me something else")...)
	return GeneratedResponse{
		Text:           RenderRecommendations(recommendationIntro(in.Now, in.Weather), result),
		Method:         ResponseRecommendation,
		Confidence:     in.Intent.Confidence,
		Suggestions:    suggestions,
		Recommendation: &result,
	}
}

func (g *ResponseGenerator) converse(ctx context.Context, in GenerateInput) GeneratedResponse {
	fallback := GeneratedResponse{
		Text:        fallbackGreeting(in.Message),
		Method:      ResponseFallback,
		Confidence:  fallbackConfidence,
		Suggestions: quickReplies("Recommend a dish", "Opening hours", "Where are you?"),
	}
	if g.llm == nil || strings.TrimSpace(in.Message) == "" {
		return fallback
	}

	history := in.History
	if len(history) > llmHistoryTurns {
		history = history[len(history)-llmHistoryTurns:]
	}
	messages := make([]ChatMessage, 0, len(history)+1)
	for _, h := range history {
		if h.Role == ChatRoleUser || h.Role == ChatRoleAssistant {
			messages = append(messages, ChatMessage{Role: h.Role, Content: h.Content})
		}
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: in.Message})

	prompt := BuildSystemPrompt(PromptContext{
		Restaurant:  in.Restaurant,
		Menu:        in.Menu,
		Customer:    in.Customer,
		Preferences: in.Preferences,
		Weather:     in.Weather,
		Now:         in.Now,
	})
	text, err := g.llm.Chat(ctx, messages, WithSystemPrompt(prompt))
	if err != nil {
		g.logger.Warn("llm response failed, using fallback greeting", "error", err)
		return fallback
	}
	return GeneratedResponse{
		Text:        text,
		Method:      ResponseLLM,
		Confidence:  in.Intent.Confidence,
		Suggestions: quickReplies("Recommend a dish", "Show me the menu"),
	}
}
