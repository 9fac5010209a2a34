package conversation

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

var classifierTracer = otel.Tracer("restaurant.internal.conversation.classifier")

// Classification methods recorded in Entities.Method.
const (
	MethodKeyword           = "keyword"
	MethodLLM               = "llm"
	MethodRuleBasedFallback = "rule_based_fallback"
)

const classifierHistoryTurns = 5

// Chatter is the slice of LanguageModel the classifier and generator use.
type Chatter interface {
	Chat(ctx context.Context, messages []ChatMessage, opts ...ChatOption) (string, error)
}

var escalationKeywordRe = regexp.MustCompile(`(?i)\b(refunds?|refunded|lawyers?|attorney|scam|scammed|sue|suing|fraud|fraudulent|chargeback|food poisoning)\b`)

const classifierPrompt = `You classify messages sent to a restaurant's chat assistant. Respond with ONE JSON object and nothing else.

Intents:
- faq_hours: opening hours, when the restaurant opens or closes
- faq_location: address, directions, where the restaurant is
- faq_delivery: delivery availability, fees, areas, times
- faq_contact: phone number, email, how to reach the restaurant
- faq_menu: what is on the menu, categories, featured items
- recommendation: asking what to eat, wanting suggestions, describing cravings or constraints
- order_status: where an existing order is, tracking, delivery progress
- order_help: placing, changing or cancelling an order, payment questions about an order
- escalation: complaints, refunds, legal threats, wanting a manager
- general: greetings, thanks, small talk, anything else

Entities (omit any that are not mentioned):
- dish_name: string
- price: number
- quantity: integer
- dietary: list of strings such as "vegetarian", "vegan", "gluten-free", "halal"
- spice_tolerance: "low", "medium" or "high"
- meal_time: "breakfast", "lunch", "dinner" or "snack"
- order_id: string
- price_min: number
- price_max: number
Prices like "100k" mean 100000.

Format: {"intent": "<intent>", "confidence": <0.0-1.0>, "entities": {...}}`

// IntentClassifier labels a message with an intent and extracted entities.
type IntentClassifier struct {
	llm    Chatter
	logger *logging.Logger
}

// NewIntentClassifier returns a classifier. A nil llm uses the rule fallback only.
func NewIntentClassifier(llm Chatter, logger *logging.Logger) *IntentClassifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &IntentClassifier{llm: llm, logger: logger}
}

// Classify never fails. Escalation keywords short-circuit, then the LLM is
// asked, then the deterministic rules answer.
func (c *IntentClassifier) Classify(ctx context.Context, message string, history []HistoryEntry) IntentResult {
	ctx, span := classifierTracer.Start(ctx, "conversation.classify")
	defer span.End()

	message = strings.TrimSpace(message)
	if kw := escalationKeywordRe.FindString(message); kw != "" {
		span.SetAttributes(attribute.String("restaurant.intent.method", MethodKeyword))
		return IntentResult{
			Intent:     IntentEscalation,
			Confidence: 1.0,
			Entities:   Entities{Method: MethodKeyword, Extra: map[string]string{"keyword": strings.ToLower(kw)}},
		}
	}

	if c.llm != nil && message != "" {
		result, err := c.classifyWithLLM(ctx, message, history)
		if err == nil {
			span.SetAttributes(
				attribute.String("restaurant.intent", string(result.Intent)),
				attribute.String("restaurant.intent.method", MethodLLM),
			)
			return result
		}
		span.RecordError(err)
		c.logger.Warn("llm intent classification failed, using rules", "error", err)
	}

	result := ClassifyByRules(message)
	span.SetAttributes(
		attribute.String("restaurant.intent", string(result.Intent)),
		attribute.String("restaurant.intent.method", MethodRuleBasedFallback),
	)
	return result
}

func (c *IntentClassifier) classifyWithLLM(ctx context.Context, message string, history []HistoryEntry) (IntentResult, error) {
	messages := make([]ChatMessage, 0, classifierHistoryTurns+1)
	recent := history
	if len(recent) > classifierHistoryTurns {
		recent = recent[len(recent)-classifierHistoryTurns:]
	}
	for _, h := range recent {
		if h.Role != ChatRoleUser && h.Role != ChatRoleAssistant {
			continue
		}
		messages = append(messages, ChatMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: message})

	text, err := c.llm.Chat(ctx, messages,
		WithSystemPrompt(classifierPrompt),
		WithTemperature(0.1),
		WithMaxTokens(300),
	)
	if err != nil {
		return IntentResult{}, err
	}
	result, err := ParseClassification(text)
	if err != nil {
		return IntentResult{}, err
	}
	if result.Entities.PriceMin == nil && result.Entities.PriceMax == nil {
		pr := ExtractPriceRange(message)
		result.Entities.PriceMin, result.Entities.PriceMax = pr.Min, pr.Max
	}
	result.Entities.Method = MethodLLM
	return result, nil
}

// ShouldEscalate is the classifier-level escalation check. Low confidence
// alone is not a reason to escalate.
func ShouldEscalate(result IntentResult, message string) bool {
	return result.Intent == IntentEscalation || ContainsFrustration(message)
}

type ruleIntent struct {
	intent     Intent
	confidence float64
	re         *regexp.Regexp
}

var ruleIntents = []ruleIntent{
	{IntentOrderStatus, 0.7, regexp.MustCompile(`(?i)\b(order status|where('?s| is) my (order|food)|track(ing)? (my )?order|my order)\b`)},
	{IntentRecommendation, 0.7, regexp.MustCompile(`(?i)\b(recommend\w*|suggest\w*|what should i (eat|order|get)|what'?s good|craving|hungry|want something|something to eat)\b`)},
	{IntentFAQHours, 0.7, regexp.MustCompile(`(?i)\b(hours?|open(ing)?|clos(e|es|ing)|what time)\b`)},
	{IntentFAQLocation, 0.7, regexp.MustCompile(`(?i)\b(address|location|located|directions?|where are you|where is the restaurant)\b`)},
	{IntentFAQDelivery, 0.7, regexp.MustCompile(`(?i)\b(deliver\w*|shipping|take ?away|takeout|carry ?out)\b`)},
	{IntentFAQContact, 0.7, regexp.MustCompile(`(?i)\b(phone|call you|contact|e-?mail|reach you|hotline)\b`)},
	{IntentFAQMenu, 0.65, regexp.MustCompile(`(?i)\b(menu|dishes|what do you (have|serve)|specials?)\b`)},
}

var (
	mealTimeRules = []struct {
		label string
		re    *regexp.Regexp
	}{
		{"breakfast", regexp.MustCompile(`(?i)\b(breakfast|brunch|morning)\b`)},
		{"lunch", regexp.MustCompile(`(?i)\b(lunch|noon|midday)\b`)},
		{"dinner", regexp.MustCompile(`(?i)\b(dinner|supper|tonight|evening)\b`)},
		{"snack", regexp.MustCompile(`(?i)\b(snacks?|bite)\b`)},
	}
	dietaryRules = []struct {
		label string
		re    *regexp.Regexp
	}{
		{"vegetarian", regexp.MustCompile(`(?i)\b(vegetarian|veggie|no meat|meatless|chay)\b`)},
		{"vegan", regexp.MustCompile(`(?i)\bvegan\b`)},
		{"gluten-free", regexp.MustCompile(`(?i)\b(gluten[- ]free|no gluten|celiac)\b`)},
		{"halal", regexp.MustCompile(`(?i)\bhalal\b`)},
		{"dairy-free", regexp.MustCompile(`(?i)\b(dairy[- ]free|lactose|no dairy)\b`)},
	}
	spiceLowRe    = regexp.MustCompile(`(?i)\b(not spicy|no spice|non[- ]spicy|mild|not too spicy|can'?t handle spic\w*)\b`)
	spiceMediumRe = regexp.MustCompile(`(?i)\b(medium spic\w*|a little spicy|bit spicy|slightly spicy)\b`)
	spiceHighRe   = regexp.MustCompile(`(?i)\b(spicy|very spicy|extra spicy|hot and spicy|love spic\w*|chili|chilli)\b`)
	orderIDRe     = regexp.MustCompile(`(?i)\border\s*(?:#|no\.?|number|id)?\s*[:#]?\s*([a-z0-9-]*\d[a-z0-9-]*)`)
)

// ClassifyByRules is the deterministic fallback. Confidence stays in [0.5, 0.7].
func ClassifyByRules(message string) IntentResult {
	e := Entities{Method: MethodRuleBasedFallback}
	for _, r := range mealTimeRules {
		if r.re.MatchString(message) {
			e.MealTime = r.label
			break
		}
	}
	for _, r := range dietaryRules {
		if r.re.MatchString(message) {
			e.Dietary = append(e.Dietary, r.label)
		}
	}
	switch {
	case spiceLowRe.MatchString(message):
		e.SpiceTolerance = catalog.SpiceLow
	case spiceMediumRe.MatchString(message):
		e.SpiceTolerance = catalog.SpiceMedium
	case spiceHighRe.MatchString(message):
		e.SpiceTolerance = catalog.SpiceHigh
	}
	if m := orderIDRe.FindStringSubmatch(message); m != nil && len(m[1]) >= 3 {
		e.OrderID = strings.ToUpper(m[1])
	}
	pr := ExtractPriceRange(message)
	e.PriceMin, e.PriceMax = pr.Min, pr.Max

	for _, r := range ruleIntents {
		if r.re.MatchString(message) {
			return IntentResult{Intent: r.intent, Confidence: r.confidence, Entities: e}
		}
	}
	// Constraints with no explicit ask still read as a request for food.
	if len(e.Dietary) > 0 || e.SpiceTolerance != "" || !pr.IsZero() || e.MealTime != "" {
		return IntentResult{Intent: IntentRecommendation, Confidence: 0.6, Entities: e}
	}
	return IntentResult{Intent: IntentGeneral, Confidence: 0.5, Entities: e}
}
