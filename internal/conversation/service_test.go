package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/feedback"
	"github.com/wolfman30/restaurant-chatbot/internal/support"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

type fakeRooms struct {
	mu       sync.Mutex
	touched  []string
	closed   []string
	waiting  bool
	closeErr error
}

func (f *fakeRooms) Touch(_ context.Context, roomID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, roomID)
	return nil
}

func (f *fakeRooms) IsWaitingForHuman(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting, nil
}

func (f *fakeRooms) CloseRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, roomID)
	return nil
}

type fakeEscalator struct {
	requests []support.EscalationRequest
	resolved []uuid.UUID
	pending  []*support.Escalation
	rooms    *fakeRooms
}

func (f *fakeEscalator) Escalate(_ context.Context, req support.EscalationRequest) (*support.Escalation, error) {
	f.requests = append(f.requests, req)
	if f.rooms != nil {
		f.rooms.mu.Lock()
		f.rooms.waiting = true
		f.rooms.mu.Unlock()
	}
	return &support.Escalation{ID: uuid.New(), RoomID: req.RoomID, Reason: req.Reason()}, nil
}

func (f *fakeEscalator) Resolve(_ context.Context, id uuid.UUID, _, _ string) error {
	for _, done := range f.resolved {
		if done == id {
			return support.ErrEscalationNotFound
		}
	}
	f.resolved = append(f.resolved, id)
	if f.rooms != nil {
		f.rooms.mu.Lock()
		f.rooms.waiting = false
		f.rooms.mu.Unlock()
	}
	return nil
}

func (f *fakeEscalator) Pending(_ context.Context, restaurantID string) ([]*support.Escalation, error) {
	var out []*support.Escalation
	for _, e := range f.pending {
		if e.RestaurantID == restaurantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEscalator) Stats(_ context.Context, restaurantID string, days int) (*support.EscalationStats, error) {
	return &support.EscalationStats{RestaurantID: restaurantID, Days: days}, nil
}

type fakeRatings struct {
	ratings []feedback.Rating
	err     error
}

func (f *fakeRatings) RecordRating(_ context.Context, r feedback.Rating) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.ratings = append(f.ratings, r)
	return uuid.New(), nil
}

type fakeEvents struct {
	mu              sync.Mutex
	sessions        []feedback.SessionEvent
	recommendations []feedback.RecommendationEvent
}

func (f *fakeEvents) Session(e feedback.SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, e)
}

func (f *fakeEvents) Recommendation(e feedback.RecommendationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recommendations = append(f.recommendations, e)
}

type panickingContexts struct{}

func (panickingContexts) Get(context.Context, string, string) *ConversationContext {
	panic("boom")
}

func (panickingContexts) Update(context.Context, string, string, ContextUpdate) *ConversationContext {
	panic("boom")
}

func (panickingContexts) Clear(context.Context, string) error { return nil }

type serviceFixture struct {
	service     *Service
	store       *ContextStore
	rooms       *fakeRooms
	escalations *fakeEscalator
	ratings     *fakeRatings
	events      *fakeEvents
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store, _ := newTestContextStore(t)

	menu := catalog.NewMemorySource()
	spicy := catalog.Dish{ID: "bun-bo", Name: "Bun Bo Hue", Category: "Noodles", Price: 80000, Rating: 4.8, ReviewCount: 120, IsSpicy: true, IsFeatured: true, IsAvailable: true}
	plain := catalog.Dish{ID: "com-ga", Name: "Com Ga", Category: "Rice", Price: 60000, Rating: 3.5, ReviewCount: 10, IsAvailable: true}
	menu.PutRestaurant(catalog.RestaurantContext{
		ID:      "rest-1",
		Name:    "Pho Corner",
		Hours:   "9:00 - 22:00",
		Address: "12 Le Loi",
		City:    "Hanoi",
		Phone:   "+84 24 1234 5678",
	}, spicy, plain)

	rooms := &fakeRooms{}
	f := &serviceFixture{
		store:       store,
		rooms:       rooms,
		escalations: &fakeEscalator{rooms: rooms},
		ratings:     &fakeRatings{},
		events:      &fakeEvents{},
	}
	f.service = NewService(Deps{
		Contexts:    store,
		Catalog:     menu,
		Customers:   menu,
		Rooms:       f.rooms,
		Escalations: f.escalations,
		Ratings:     f.ratings,
		Events:      f.events,
		Logger:      logging.Discard(),
	})
	return f
}

func message(text string) MessageRequest {
	return MessageRequest{Text: text, RoomID: "room-1", UserID: "user-1", RestaurantID: "rest-1"}
}

func TestService_RecommendsSpicyDishUnderBudget(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.ProcessMessage(context.Background(), message("I want something spicy under 100k"))

	require.NoError(t, err)
	assert.Equal(t, IntentRecommendation, resp.Intent)
	assert.Equal(t, ResponseRecommendation, resp.Method)
	assert.False(t, resp.IsEscalated)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, "bun-bo", resp.Suggestions[0].DishID)
	assert.Contains(t, resp.Text, "1. Bun Bo Hue - 80,000đ")
	assert.Contains(t, resp.Text, "Highly rated")
	assert.Equal(t, catalog.SpiceHigh, resp.Entities.SpiceTolerance)

	convo := f.store.Get(context.Background(), "room-1", "user-1")
	require.Len(t, convo.History, 2)
	assert.Equal(t, ChatRoleUser, convo.History[0].Role)
	assert.Equal(t, ChatRoleAssistant, convo.History[1].Role)
	assert.Equal(t, StateBrowsing, convo.State)

	assert.Equal(t, []string{"room-1"}, f.rooms.touched)
	require.Len(t, f.events.recommendations, 1)
	assert.Equal(t, "bun-bo", f.events.recommendations[0].DishIDs[0])
	require.Len(t, f.events.sessions, 1)
	assert.Equal(t, string(IntentRecommendation), f.events.sessions[0].Intent)
}

func TestService_QuantityIsNotABudget(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	resp, err := f.service.ProcessMessage(ctx, message("recommend 2 kebabs"))
	require.NoError(t, err)
	assert.Equal(t, IntentRecommendation, resp.Intent)
	assert.Nil(t, resp.Entities.PriceMax)
	assert.Nil(t, resp.Entities.PriceMin)

	resp, err = f.service.ProcessMessage(ctx, message("recommend something"))
	require.NoError(t, err)
	assert.Equal(t, ResponseRecommendation, resp.Method)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, "dish", resp.Suggestions[0].Type)
	assert.Nil(t, resp.Entities.PriceMax)
}

func TestService_EscalatesWhenUserAsksForHuman(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	resp, err := f.service.ProcessMessage(ctx, message("I HATE this, get me a human now"))

	require.NoError(t, err)
	assert.True(t, resp.IsEscalated)
	assert.Equal(t, HandoffMessage, resp.Text)
	assert.Equal(t, IntentEscalation, resp.Intent)
	assert.Equal(t, StateEscalation, resp.State)

	require.Len(t, f.escalations.requests, 1)
	req := f.escalations.requests[0]
	assert.Equal(t, []string{support.ReasonHumanRequested}, req.Reasons)
	require.NotEmpty(t, req.Transcript)
	assert.Equal(t, "I HATE this, get me a human now", req.Transcript[len(req.Transcript)-1].Content)

	convo := f.store.Get(ctx, "room-1", "user-1")
	require.Len(t, convo.History, 3)
	assert.Equal(t, ChatRoleSystem, convo.History[2].Role)
	assert.Equal(t, support.HandoffNotice(support.ReasonHumanRequested), convo.History[2].Content)

	// While staff have not picked the room up, the bot only holds the line.
	resp, err = f.service.ProcessMessage(ctx, message("hello? anyone?"))
	require.NoError(t, err)
	assert.Equal(t, WaitingForStaffMessage, resp.Text)
	assert.True(t, resp.IsEscalated)
	assert.Len(t, f.escalations.requests, 1)
}

func TestService_ResumesAfterStaffPickUp(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.ProcessMessage(ctx, message("let me speak to a manager"))
	require.NoError(t, err)
	f.rooms.waiting = false

	resp, err := f.service.ProcessMessage(ctx, message("what time do you open"))
	require.NoError(t, err)
	assert.Equal(t, IntentFAQHours, resp.Intent)
	assert.Contains(t, resp.Text, "9:00 - 22:00")
	assert.False(t, resp.IsEscalated)
}

func TestService_WithoutRoomTrackerResumesAfterHandoff(t *testing.T) {
	store, _ := newTestContextStore(t)
	menu := catalog.NewMemorySource()
	menu.PutRestaurant(catalog.RestaurantContext{ID: "rest-1", Name: "Pho Corner", Hours: "9:00 - 22:00"})
	service := NewService(Deps{Contexts: store, Catalog: menu, Logger: logging.Discard()})
	ctx := context.Background()

	resp, err := service.ProcessMessage(ctx, message("let me speak to a manager"))
	require.NoError(t, err)
	assert.True(t, resp.IsEscalated)

	for i := 0; i < 3; i++ {
		resp, err = service.ProcessMessage(ctx, message("what time do you open"))
		require.NoError(t, err)
		assert.NotEqual(t, WaitingForStaffMessage, resp.Text)
		assert.Equal(t, IntentFAQHours, resp.Intent)
		assert.Contains(t, resp.Text, "9:00 - 22:00")
		assert.Equal(t, StateBrowsing, resp.State)
	}
}

func TestService_AnswersFAQFromTemplate(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.ProcessMessage(context.Background(), message("what's your address?"))

	require.NoError(t, err)
	assert.Equal(t, IntentFAQLocation, resp.Intent)
	assert.Equal(t, ResponseTemplate, resp.Method)
	assert.Contains(t, resp.Text, "12 Le Loi")
}

func TestService_GeneralMessageFallsBackWithoutLLM(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.ProcessMessage(context.Background(), message("hello there"))

	require.NoError(t, err)
	assert.Equal(t, ResponseFallback, resp.Method)
	assert.Contains(t, fallbackGreetings, resp.Text)
	assert.False(t, resp.IsEscalated)
}

func TestService_InvalidRequest(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.ProcessMessage(context.Background(), MessageRequest{Text: "hi", UserID: "u", RestaurantID: "r"})

	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "room_id")
	assert.Empty(t, f.events.sessions)
}

func TestService_RecoversFromPanics(t *testing.T) {
	svc := NewService(Deps{
		Contexts: panickingContexts{},
		Catalog:  catalog.NewMemorySource(),
		Logger:   logging.Discard(),
	})

	resp, err := svc.ProcessMessage(context.Background(), message("hi"))

	require.NoError(t, err)
	assert.Equal(t, errorReply, resp.Text)
	assert.Equal(t, ResponseFallback, resp.Method)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	assert.Panics(t, func() { NewService(Deps{Catalog: catalog.NewMemorySource()}) })
	assert.Panics(t, func() { NewService(Deps{Contexts: panickingContexts{}}) })
}

func TestService_RecordFeedbackLearnsPreferences(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result, err := f.service.RecordFeedback(ctx, FeedbackRequest{
		RoomID:       "room-1",
		UserID:       "user-1",
		RestaurantID: "rest-1",
		DishID:       "bun-bo",
		Score:        5,
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.ID)
	assert.Equal(t, catalog.SpiceHigh, result.LearnedPreferences[PrefSpiceTolerance])
	assert.Equal(t, "Noodles", result.LearnedPreferences[PrefFavoriteCategory])
	require.Len(t, f.ratings.ratings, 1)
	assert.Equal(t, 5, f.ratings.ratings[0].Score)

	convo := f.store.Get(ctx, "room-1", "user-1")
	assert.Equal(t, catalog.SpiceHigh, convo.Preferences[PrefSpiceTolerance])

	require.Len(t, f.events.recommendations, 1)
	assert.True(t, f.events.recommendations[0].Accepted)
}

func TestService_RecordFeedbackValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.RecordFeedback(ctx, FeedbackRequest{RoomID: "room-1", UserID: "user-1", Score: 6})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.service.RecordFeedback(ctx, FeedbackRequest{UserID: "user-1", Score: 3})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	f.ratings.err = errors.New("db down")
	_, err = f.service.RecordFeedback(ctx, FeedbackRequest{RoomID: "room-1", UserID: "user-1", Score: 3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestLearnPreferences(t *testing.T) {
	spicy := catalog.Dish{IsSpicy: true, Category: "Noodles"}
	veg := catalog.Dish{IsVegetarian: true}

	assert.Equal(t, map[string]string{PrefSpiceTolerance: catalog.SpiceHigh, PrefFavoriteCategory: "Noodles"}, LearnPreferences(spicy, 4))
	assert.Equal(t, map[string]string{PrefSpiceTolerance: catalog.SpiceLow}, LearnPreferences(spicy, 1))
	assert.Equal(t, map[string]string{PrefDietaryPreference: "vegetarian"}, LearnPreferences(veg, 5))
	assert.Empty(t, LearnPreferences(spicy, 3))
}

func TestService_CloseRoomClearsContext(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.service.ProcessMessage(ctx, message("hello there"))
	require.NoError(t, err)

	require.NoError(t, f.service.CloseRoom(ctx, "room-1"))

	assert.Equal(t, []string{"room-1"}, f.rooms.closed)
	assert.True(t, f.store.IsStale(ctx, "room-1", "user-1", 0))

	assert.ErrorIs(t, f.service.CloseRoom(ctx, " "), ErrInvalidRequest)

	f.rooms.closeErr = support.ErrRoomNotFound
	assert.ErrorIs(t, f.service.CloseRoom(ctx, "room-9"), support.ErrRoomNotFound)
}

func TestService_EscalationStats(t *testing.T) {
	f := newServiceFixture(t)

	stats, err := f.service.EscalationStats(context.Background(), "rest-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "rest-1", stats.RestaurantID)
	assert.Equal(t, 7, stats.Days)

	bare := NewService(Deps{Contexts: f.store, Catalog: catalog.NewMemorySource(), Logger: logging.Discard()})
	_, err = bare.EscalationStats(context.Background(), "rest-1", 7)
	assert.Error(t, err)
}

func TestService_ResolveEscalationReturnsRoomToBot(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	resp, err := f.service.ProcessMessage(ctx, message("let me speak to a manager"))
	require.NoError(t, err)
	require.True(t, resp.IsEscalated)

	resp, err = f.service.ProcessMessage(ctx, message("what time do you open"))
	require.NoError(t, err)
	assert.Equal(t, WaitingForStaffMessage, resp.Text)

	id := uuid.New()
	err = f.service.ResolveEscalation(ctx, ResolveRequest{EscalationID: id, StaffMember: "alice", Resolution: "called back"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, f.escalations.resolved)

	resp, err = f.service.ProcessMessage(ctx, message("what time do you open"))
	require.NoError(t, err)
	assert.NotEqual(t, WaitingForStaffMessage, resp.Text)
	assert.Contains(t, resp.Text, "9:00 - 22:00")
	assert.Equal(t, StateBrowsing, resp.State)

	err = f.service.ResolveEscalation(ctx, ResolveRequest{EscalationID: id, StaffMember: "alice"})
	assert.ErrorIs(t, err, support.ErrEscalationNotFound)
}

func TestService_ResolveEscalationValidates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.service.ResolveEscalation(ctx, ResolveRequest{StaffMember: "alice"}), ErrInvalidRequest)
	assert.ErrorIs(t, f.service.ResolveEscalation(ctx, ResolveRequest{EscalationID: uuid.New(), StaffMember: " "}), ErrInvalidRequest)

	bare := NewService(Deps{Contexts: f.store, Catalog: catalog.NewMemorySource(), Logger: logging.Discard()})
	err := bare.ResolveEscalation(ctx, ResolveRequest{EscalationID: uuid.New(), StaffMember: "alice"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestService_PendingEscalations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.escalations.pending = []*support.Escalation{
		{ID: uuid.New(), RestaurantID: "rest-1", Priority: support.PriorityHigh},
		{ID: uuid.New(), RestaurantID: "rest-2", Priority: support.PriorityLow},
	}

	pending, err := f.service.PendingEscalations(ctx, "rest-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, support.PriorityHigh, pending[0].Priority)

	pending, err = f.service.PendingEscalations(ctx, "rest-3")
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)

	_, err = f.service.PendingEscalations(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_SimilarDishes(t *testing.T) {
	store, _ := newTestContextStore(t)
	menu := catalog.NewMemorySource()
	menu.PutRestaurant(catalog.RestaurantContext{ID: "rest-1", Name: "Pho Corner"},
		catalog.Dish{ID: "pho-bo", Name: "Pho Bo", Category: "Noodles", Price: 60000, IsAvailable: true},
		catalog.Dish{ID: "bun-cha", Name: "Bun Cha", Category: "Noodles", Price: 65000, IsAvailable: true},
		catalog.Dish{ID: "com-ga", Name: "Com Ga", Category: "Rice", Price: 60000, IsAvailable: true},
		catalog.Dish{ID: "mi-cay", Name: "Mi Cay", Category: "Noodles", Price: 200000, IsSpicy: true, IsAvailable: true},
		catalog.Dish{ID: "hu-tieu", Name: "Hu Tieu", Category: "Noodles", Price: 60000, IsAvailable: false},
	)
	svc := NewService(Deps{Contexts: store, Catalog: menu, Logger: logging.Discard()})
	ctx := context.Background()

	dishes, err := svc.SimilarDishes(ctx, "rest-1", "pho-bo", 2)
	require.NoError(t, err)
	require.Len(t, dishes, 2)
	assert.Equal(t, "bun-cha", dishes[0].ID)
	assert.Equal(t, "com-ga", dishes[1].ID)

	dishes, err = svc.SimilarDishes(ctx, "rest-1", "pho-bo", 0)
	require.NoError(t, err)
	for _, d := range dishes {
		assert.NotEqual(t, "hu-tieu", d.ID)
		assert.NotEqual(t, "pho-bo", d.ID)
	}

	_, err = svc.SimilarDishes(ctx, "rest-1", "missing", 3)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = svc.SimilarDishes(ctx, "rest-1", "", 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
