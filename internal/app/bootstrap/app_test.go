package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	appconfig "github.com/wolfman30/restaurant-chatbot/internal/config"
	"github.com/wolfman30/restaurant-chatbot/internal/conversation"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

func TestBuildAppRequiresConfig(t *testing.T) {
	_, err := BuildApp(context.Background(), nil, logging.Discard(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestBuildAppRequiresRedis(t *testing.T) {
	_, err := BuildApp(context.Background(), &appconfig.Config{}, logging.Discard(), prometheus.NewRegistry())
	assert.ErrorContains(t, err, "REDIS_ADDR")
}

func TestBuildAppInMemoryServesTurns(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr(), LLMProvider: "none", FeedbackQueueSize: 8}

	app, err := BuildApp(context.Background(), cfg, logging.Discard(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	assert.Nil(t, app.Sweeper)

	resp, err := app.Service.ProcessMessage(context.Background(), conversation.MessageRequest{
		Text:         "recommend something vegetarian",
		RoomID:       "room-1",
		UserID:       "user-1",
		RestaurantID: DemoRestaurantID,
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.IntentRecommendation, resp.Intent)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, "dish", resp.Suggestions[0].Type)

	rr := httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "restaurant_chatbot_turns_total"))
}

func TestBuildLLMClient(t *testing.T) {
	cfg := &appconfig.Config{}
	for _, provider := range []string{"openai", "bedrock", "gemini", "", "none"} {
		_, err := BuildLLMClient(context.Background(), provider, cfg)
		assert.ErrorIs(t, err, ErrProviderNotConfigured, provider)
	}

	_, err := BuildLLMClient(context.Background(), "llama", cfg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrProviderNotConfigured))

	client, err := BuildLLMClient(context.Background(), "openai", &appconfig.Config{OpenAIAPIKey: "sk-test", OpenAIModel: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestBuildLanguageModelWithoutProviderIsNil(t *testing.T) {
	assert.Nil(t, BuildLanguageModel(context.Background(), &appconfig.Config{LLMProvider: "openai"}, logging.Discard(), nil))
}

func TestBuildPostgresEmptyURL(t *testing.T) {
	pool, db, err := BuildPostgres(context.Background(), " ", logging.Discard())
	assert.NoError(t, err)
	assert.Nil(t, pool)
	assert.Nil(t, db)
}

func TestDemoCatalog(t *testing.T) {
	src := DemoCatalog()
	r, err := src.RestaurantContext(context.Background(), DemoRestaurantID)
	require.NoError(t, err)
	assert.Equal(t, "Hanoi", r.City)

	dishes, err := src.SearchMenuItems(context.Background(), DemoRestaurantID, catalog.SearchFilters{})
	require.NoError(t, err)
	assert.Len(t, dishes, 6)
}
