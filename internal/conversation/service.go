package conversation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/feedback"
	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/internal/recommendation"
	"github.com/wolfman30/restaurant-chatbot/internal/support"
	"github.com/wolfman30/restaurant-chatbot/internal/weather"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

var serviceTracer = otel.Tracer("restaurant.internal.conversation.service")

// ErrInvalidRequest is the only error ProcessMessage returns.
var ErrInvalidRequest = errors.New("conversation: invalid request")

const (
	defaultTurnTimeout = 8 * time.Second
	persistTimeout     = 2 * time.Second
	errorReply         = "Sorry, something went wrong on my side. Could you say that again?"
)

// ContextRepository is the conversation memory the service depends on.
type ContextRepository interface {
	Get(ctx context.Context, roomID, userID string) *ConversationContext
	Update(ctx context.Context, roomID, userID string, upd ContextUpdate) *ConversationContext
	Clear(ctx context.Context, roomID string) error
}

// RoomTracker keeps chat room status in the relational store.
type RoomTracker interface {
	Touch(ctx context.Context, roomID, restaurantID, userID string) error
	IsWaitingForHuman(ctx context.Context, roomID string) (bool, error)
	CloseRoom(ctx context.Context, roomID string) error
}

// Escalator hands conversations to staff and reports on hand-offs.
type Escalator interface {
	Escalate(ctx context.Context, req support.EscalationRequest) (*support.Escalation, error)
	Resolve(ctx context.Context, escalationID uuid.UUID, staffMember, resolution string) error
	Pending(ctx context.Context, restaurantID string) ([]*support.Escalation, error)
	Stats(ctx context.Context, restaurantID string, days int) (*support.EscalationStats, error)
}

// RatingRecorder persists user ratings.
type RatingRecorder interface {
	RecordRating(ctx context.Context, r feedback.Rating) (uuid.UUID, error)
}

// EventSink receives fire-and-forget analytics.
type EventSink interface {
	Session(e feedback.SessionEvent)
	Recommendation(e feedback.RecommendationEvent)
}

// Deps wires the service. Contexts and Catalog are required.
type Deps struct {
	Contexts    ContextRepository
	Classifier  *IntentClassifier
	Detector    *EscalationDetector
	Generator   *ResponseGenerator
	Catalog     catalog.Source
	Customers   catalog.CustomerSource
	Weather     weather.Provider
	Rooms       RoomTracker
	Escalations Escalator
	Ratings     RatingRecorder
	Events      EventSink
	Logger      *logging.Logger
	Metrics     *metrics.ChatbotMetrics
	TurnTimeout time.Duration
}

// Service orchestrates one conversation turn at a time.
type Service struct {
	contexts    ContextRepository
	classifier  *IntentClassifier
	detector    *EscalationDetector
	generator   *ResponseGenerator
	catalog     catalog.Source
	customers   catalog.CustomerSource
	weather     weather.Provider
	rooms       RoomTracker
	escalations Escalator
	ratings     RatingRecorder
	events      EventSink
	logger      *logging.Logger
	metrics     *metrics.ChatbotMetrics
	turnTimeout time.Duration
	now         func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Contexts == nil {
		panic("conversation: context repository required")
	}
	if deps.Catalog == nil {
		panic("conversation: catalog source required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Classifier == nil {
		deps.Classifier = NewIntentClassifier(nil, deps.Logger)
	}
	if deps.Detector == nil {
		deps.Detector = NewEscalationDetector(nil, deps.Logger)
	}
	if deps.Generator == nil {
		deps.Generator = NewResponseGenerator(nil, nil, deps.Logger, deps.Metrics)
	}
	if deps.TurnTimeout <= 0 {
		deps.TurnTimeout = defaultTurnTimeout
	}
	return &Service{
		contexts:    deps.Contexts,
		classifier:  deps.Classifier,
		detector:    deps.Detector,
		generator:   deps.Generator,
		catalog:     deps.Catalog,
		customers:   deps.Customers,
		weather:     deps.Weather,
		rooms:       deps.Rooms,
		escalations: deps.Escalations,
		ratings:     deps.Ratings,
		events:      deps.Events,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		turnTimeout: deps.TurnTimeout,
		now:         time.Now,
	}
}

// MessageRequest is one inbound chat message.
type MessageRequest struct {
	Text         string `json:"text"`
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	RestaurantID string `json:"restaurant_id"`
	// ExtraContext may carry "customer_id" and "city" overrides.
	ExtraContext map[string]string `json:"extra_context,omitempty"`
}

func (r MessageRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.RoomID) == "" {
		missing = append(missing, "room_id")
	}
	if strings.TrimSpace(r.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(r.RestaurantID) == "" {
		missing = append(missing, "restaurant_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

func (r MessageRequest) customerID() string {
	if id := strings.TrimSpace(r.ExtraContext["customer_id"]); id != "" {
		return id
	}
	return r.UserID
}

// Response is the reply to one MessageRequest.
type Response struct {
	Text        string       `json:"response"`
	Suggestions []Suggestion `json:"suggestions"`
	Intent      Intent       `json:"intent"`
	Entities    Entities     `json:"entities"`
	IsEscalated bool         `json:"is_escalated"`
	Confidence  float64      `json:"confidence"`
	Method      string       `json:"method"`
	State       State        `json:"state"`
}

// ProcessMessage runs one turn. The user always gets a reply; the only error
// is ErrInvalidRequest for missing identifiers.
func (s *Service) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "conversation.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.room_id", req.RoomID),
		attribute.String("restaurant.id", req.RestaurantID),
	)

	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	start := s.now()
	resp := s.safeTurn(ctx, req)
	latency := s.now().Sub(start)
	s.metrics.ObserveTurn(string(resp.Intent), resp.Method, latency.Seconds())
	span.SetAttributes(
		attribute.String("restaurant.intent", string(resp.Intent)),
		attribute.String("restaurant.response.method", resp.Method),
		attribute.Bool("restaurant.escalated", resp.IsEscalated),
	)

	if s.events != nil {
		s.events.Session(feedback.SessionEvent{
			RoomID:       req.RoomID,
			UserID:       req.UserID,
			RestaurantID: req.RestaurantID,
			Intent:       string(resp.Intent),
			Method:       resp.Method,
			Confidence:   resp.Confidence,
			Escalated:    resp.IsEscalated,
			LatencyMS:    latency.Milliseconds(),
		})
	}
	return resp, nil
}

func (s *Service) safeTurn(ctx context.Context, req MessageRequest) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing message",
				"room_id", req.RoomID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			resp = &Response{Text: errorReply, Intent: IntentGeneral, Method: ResponseFallback, State: StateGreeting}
		}
	}()
	return s.turn(ctx, req)
}

func (s *Service) turn(ctx context.Context, req MessageRequest) *Response {
	text := strings.TrimSpace(req.Text)
	convo := s.contexts.Get(ctx, req.RoomID, req.UserID)

	if convo.MessageCount == 0 && s.rooms != nil {
		if err := s.rooms.Touch(ctx, req.RoomID, req.RestaurantID, req.UserID); err != nil {
			s.logger.Warn("failed to register chat room", "room_id", req.RoomID, "error", err)
		}
	}

	if convo.State == StateEscalation && s.waitingForHuman(ctx, req.RoomID) {
		updated := s.persist(ctx, req, ContextUpdate{
			Intent:      IntentEscalation,
			UserMessage: text,
			BotMessage:  WaitingForStaffMessage,
		})
		return &Response{
			Text:        WaitingForStaffMessage,
			Intent:      IntentEscalation,
			Entities:    updated.Entities,
			IsEscalated: true,
			Confidence:  1.0,
			Method:      ResponseTemplate,
			State:       updated.State,
		}
	}

	result := s.classifier.Classify(ctx, text, convo.History)
	decision := s.detector.Evaluate(ctx, Turn{
		RoomID:  req.RoomID,
		Message: text,
		Result:  result,
		Context: convo,
	})
	if decision.ShouldEscalate {
		return s.escalate(ctx, req, text, convo, result, decision)
	}

	lookups := s.lookup(ctx, req, result.Intent)
	gen := s.generator.Generate(ctx, GenerateInput{
		Message:     text,
		Intent:      result,
		Entities:    convo.Entities.Merge(result.Entities),
		History:     convo.History,
		Preferences: convo.Preferences,
		Restaurant:  lookups.restaurant,
		Menu:        lookups.menu,
		Dishes:      lookups.dishes,
		Customer:    lookups.customer,
		Weather:     lookups.weather,
		Now:         s.now(),
	})

	updated := s.persist(ctx, req, ContextUpdate{
		Intent:      result.Intent,
		Entities:    result.Entities,
		UserMessage: text,
		BotMessage:  gen.Text,
	})

	if rec := gen.Recommendation; rec != nil && !rec.Empty() && s.events != nil {
		ids := make([]string, 0, len(rec.Dishes))
		for _, d := range rec.Dishes {
			ids = append(ids, d.ID)
		}
		s.events.Recommendation(feedback.RecommendationEvent{
			RoomID:       req.RoomID,
			UserID:       req.UserID,
			RestaurantID: req.RestaurantID,
			DishIDs:      ids,
			Algorithm:    rec.Algorithm,
			Confidence:   rec.Confidence,
		})
	}

	return &Response{
		Text:        gen.Text,
		Suggestions: gen.Suggestions,
		Intent:      result.Intent,
		Entities:    updated.Entities,
		Confidence:  gen.Confidence,
		Method:      gen.Method,
		State:       updated.State,
	}
}

func (s *Service) escalate(ctx context.Context, req MessageRequest, text string, convo *ConversationContext, result IntentResult, decision EscalationDecision) *Response {
	s.logger.Info("escalating conversation",
		"room_id", req.RoomID,
		"restaurant_id", req.RestaurantID,
		"reason", decision.Reason,
		"confidence", result.Confidence,
	)
	s.metrics.ObserveEscalation(decision.Reason)

	if s.escalations != nil {
		lines := make([]support.TranscriptLine, 0, len(convo.History)+1)
		for _, h := range convo.History {
			lines = append(lines, support.TranscriptLine{Role: h.Role, Content: h.Content, Timestamp: h.Timestamp})
		}
		lines = append(lines, support.TranscriptLine{Role: ChatRoleUser, Content: text, Timestamp: s.now()})
		if _, err := s.escalations.Escalate(ctx, support.EscalationRequest{
			RoomID:       req.RoomID,
			RestaurantID: req.RestaurantID,
			UserID:       req.UserID,
			Reasons:      decision.Reasons,
			Transcript:   lines,
		}); err != nil {
			s.logger.Error("failed to record escalation", "room_id", req.RoomID, "error", err)
		}
	}

	updated := s.persist(ctx, req, ContextUpdate{
		Intent:        IntentEscalation,
		Entities:      result.Entities,
		UserMessage:   text,
		BotMessage:    HandoffMessage,
		SystemMessage: support.HandoffNotice(decision.Reason),
	})
	return &Response{
		Text:        HandoffMessage,
		Intent:      IntentEscalation,
		Entities:    updated.Entities,
		IsEscalated: true,
		Confidence:  result.Confidence,
		Method:      ResponseTemplate,
		State:       updated.State,
	}
}

// persist writes the turn even when the turn deadline has already passed.
func (s *Service) persist(ctx context.Context, req MessageRequest, upd ContextUpdate) *ConversationContext {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return s.contexts.Update(ctx, req.RoomID, req.UserID, upd)
}

func (s *Service) waitingForHuman(ctx context.Context, roomID string) bool {
	if s.rooms == nil {
		// Nobody can pick the room up, so the bot carries on.
		return false
	}
	waiting, err := s.rooms.IsWaitingForHuman(ctx, roomID)
	if err != nil {
		s.logger.Warn("room status lookup failed", "room_id", roomID, "error", err)
		return true
	}
	return waiting
}

type turnLookups struct {
	restaurant *catalog.RestaurantContext
	menu       *catalog.MenuSummary
	dishes     []catalog.Dish
	customer   *catalog.CustomerPreferences
	weather    *weather.Conditions
}

// lookup fetches only what the intent needs, concurrently. Every lookup is
// best effort.
func (s *Service) lookup(ctx context.Context, req MessageRequest, intent Intent) turnLookups {
	var out turnLookups
	open := !intent.IsFAQ() && !intent.IsOrder() && intent != IntentRecommendation
	needRestaurant := intent.IsFAQ() || open || intent == IntentRecommendation
	needMenu := intent == IntentFAQMenu || open
	needCustomer := intent == IntentRecommendation || open
	needDishes := intent == IntentRecommendation

	g, gctx := errgroup.WithContext(ctx)
	if needRestaurant {
		g.Go(func() error {
			r, err := s.catalog.RestaurantContext(gctx, req.RestaurantID)
			if err != nil {
				s.logger.Warn("restaurant lookup failed", "restaurant_id", req.RestaurantID, "error", err)
			}
			out.restaurant = r
			if intent.IsFAQ() {
				return nil
			}
			city := strings.TrimSpace(req.ExtraContext["city"])
			if city == "" && r != nil {
				city = r.City
			}
			out.weather = s.lookupWeather(gctx, city)
			return nil
		})
	}
	if needMenu {
		g.Go(func() error {
			m, err := s.catalog.MenuSummary(gctx, req.RestaurantID)
			if err != nil {
				s.logger.Warn("menu summary lookup failed", "restaurant_id", req.RestaurantID, "error", err)
			}
			out.menu = m
			return nil
		})
	}
	if needCustomer && s.customers != nil {
		g.Go(func() error {
			c, err := s.customers.CustomerPreferences(gctx, req.customerID())
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				s.logger.Warn("customer preference lookup failed", "user_id", req.UserID, "error", err)
			}
			out.customer = c
			return nil
		})
	}
	if needDishes {
		g.Go(func() error {
			dishes, err := s.catalog.SearchMenuItems(gctx, req.RestaurantID, catalog.SearchFilters{})
			if err != nil {
				s.logger.Warn("menu search failed", "restaurant_id", req.RestaurantID, "error", err)
			}
			out.dishes = dishes
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) lookupWeather(ctx context.Context, city string) *weather.Conditions {
	if s.weather == nil || city == "" {
		return nil
	}
	w, err := s.weather.ByCity(ctx, city)
	if err != nil {
		s.logger.Debug("weather unavailable", "city", city, "error", err)
		return nil
	}
	return w
}

// FeedbackRequest is a user's rating of a reply or a recommended dish.
type FeedbackRequest struct {
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	RestaurantID string `json:"restaurant_id"`
	DishID       string `json:"dish_id,omitempty"`
	Score        int    `json:"rating"`
	Comment      string `json:"comment,omitempty"`
}

// FeedbackResult reports what was stored and learned.
type FeedbackResult struct {
	ID                 uuid.UUID         `json:"id"`
	LearnedPreferences map[string]string `json:"learned_preferences,omitempty"`
}

// RecordFeedback stores a rating and learns preferences from rated dishes.
func (s *Service) RecordFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error) {
	if strings.TrimSpace(req.RoomID) == "" || strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: missing room_id or user_id", ErrInvalidRequest)
	}
	if req.Score < 1 || req.Score > 5 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, feedback.ErrInvalidRating)
	}

	out := &FeedbackResult{}
	if s.ratings != nil {
		id, err := s.ratings.RecordRating(ctx, feedback.Rating{
			RoomID:  req.RoomID,
			UserID:  req.UserID,
			DishID:  req.DishID,
			Score:   req.Score,
			Comment: req.Comment,
		})
		if err != nil {
			return nil, fmt.Errorf("conversation: record feedback: %w", err)
		}
		out.ID = id
	}

	if req.DishID == "" || req.RestaurantID == "" {
		return out, nil
	}
	dish, err := s.catalog.GetDish(ctx, req.RestaurantID, req.DishID)
	if err != nil {
		s.logger.Warn("rated dish lookup failed", "dish_id", req.DishID, "error", err)
		return out, nil
	}
	if s.events != nil {
		s.events.Recommendation(feedback.RecommendationEvent{
			RoomID:       req.RoomID,
			UserID:       req.UserID,
			RestaurantID: req.RestaurantID,
			DishIDs:      []string{dish.ID},
			Algorithm:    recommendation.Algorithm,
			Accepted:     req.Score >= 4,
		})
	}
	if learned := LearnPreferences(*dish, req.Score); len(learned) > 0 {
		s.contexts.Update(ctx, req.RoomID, req.UserID, ContextUpdate{Preferences: learned})
		out.LearnedPreferences = learned
	}
	return out, nil
}

// LearnPreferences maps a dish rating onto explicit preferences.
func LearnPreferences(d catalog.Dish, score int) map[string]string {
	learned := map[string]string{}
	switch {
	case score >= 4:
		if d.IsSpicy {
			learned[PrefSpiceTolerance] = catalog.SpiceHigh
		}
		if d.IsVegetarian {
			learned[PrefDietaryPreference] = "vegetarian"
		}
		if d.Category != "" {
			learned[PrefFavoriteCategory] = d.Category
		}
	case score <= feedback.NegativeRatingThreshold:
		if d.IsSpicy {
			learned[PrefSpiceTolerance] = catalog.SpiceLow
		}
	}
	return learned
}

// CloseRoom marks the room closed and drops its conversation memory.
func (s *Service) CloseRoom(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: missing room_id", ErrInvalidRequest)
	}
	if s.rooms != nil {
		if err := s.rooms.CloseRoom(ctx, roomID); err != nil {
			return fmt.Errorf("conversation: close room: %w", err)
		}
	}
	if err := s.contexts.Clear(ctx, roomID); err != nil {
		s.logger.Warn("failed to clear room context", "room_id", roomID, "error", err)
	}
	return nil
}

// EscalationStats reports hand-offs for a restaurant.
func (s *Service) EscalationStats(ctx context.Context, restaurantID string, days int) (*support.EscalationStats, error) {
	if s.escalations == nil {
		return nil, errors.New("conversation: escalation reporting not configured")
	}
	return s.escalations.Stats(ctx, restaurantID, days)
}

// ResolveRequest closes a hand-off once staff have dealt with it.
type ResolveRequest struct {
	EscalationID uuid.UUID `json:"-"`
	StaffMember  string    `json:"staff_member"`
	Resolution   string    `json:"resolution"`
}

// ResolveEscalation marks a hand-off resolved so the bot answers the room again.
func (s *Service) ResolveEscalation(ctx context.Context, req ResolveRequest) error {
	if req.EscalationID == uuid.Nil {
		return fmt.Errorf("%w: missing escalation id", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.StaffMember) == "" {
		return fmt.Errorf("%w: missing staff_member", ErrInvalidRequest)
	}
	if s.escalations == nil {
		return errors.New("conversation: escalation handling not configured")
	}
	if err := s.escalations.Resolve(ctx, req.EscalationID, req.StaffMember, req.Resolution); err != nil {
		return fmt.Errorf("conversation: resolve escalation: %w", err)
	}
	return nil
}

// PendingEscalations lists a restaurant's open hand-offs, most urgent first.
func (s *Service) PendingEscalations(ctx context.Context, restaurantID string) ([]*support.Escalation, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return nil, fmt.Errorf("%w: missing restaurant_id", ErrInvalidRequest)
	}
	if s.escalations == nil {
		return nil, errors.New("conversation: escalation handling not configured")
	}
	pending, err := s.escalations.Pending(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("conversation: pending escalations: %w", err)
	}
	if pending == nil {
		pending = []*support.Escalation{}
	}
	return pending, nil
}

// SimilarDishes suggests alternatives to a dish from the same menu.
func (s *Service) SimilarDishes(ctx context.Context, restaurantID, dishID string, limit int) ([]catalog.Dish, error) {
	if strings.TrimSpace(restaurantID) == "" || strings.TrimSpace(dishID) == "" {
		return nil, fmt.Errorf("%w: missing restaurant_id or dish_id", ErrInvalidRequest)
	}
	reference, err := s.catalog.GetDish(ctx, restaurantID, dishID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load dish: %w", err)
	}
	dishes, err := s.catalog.SearchMenuItems(ctx, restaurantID, catalog.SearchFilters{})
	if err != nil {
		return nil, fmt.Errorf("conversation: load menu: %w", err)
	}
	return recommendation.SimilarDishes(*reference, dishes, limit), nil
}
