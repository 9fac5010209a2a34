package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/restaurant-chatbot/internal/api/router"
	"github.com/wolfman30/restaurant-chatbot/internal/cache"
	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	appconfig "github.com/wolfman30/restaurant-chatbot/internal/config"
	"github.com/wolfman30/restaurant-chatbot/internal/conversation"
	"github.com/wolfman30/restaurant-chatbot/internal/feedback"
	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/internal/recommendation"
	"github.com/wolfman30/restaurant-chatbot/internal/support"
	"github.com/wolfman30/restaurant-chatbot/internal/weather"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

const (
	catalogCachePrefix = "chatbot:catalog"
	weatherCachePrefix = "chatbot:weather"
)

// App is the fully wired chatbot.
type App struct {
	Handler http.Handler
	Service *conversation.Service
	// Sweeper is nil without Postgres, since closed rooms are tracked there.
	Sweeper *conversation.ClosedRoomSweeper

	redis      *redis.Client
	pool       *pgxpool.Pool
	db         *sql.DB
	dispatcher *feedback.Dispatcher
	logger     *logging.Logger
}

// BuildApp wires every collaborator from config. Redis is required;
// Postgres, the language model and weather are optional and degrade to
// in-memory or rule-based behaviour.
func BuildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisClient := BuildRedisClient(ctx, cfg, logger)
	if redisClient == nil {
		return nil, fmt.Errorf("bootstrap: REDIS_ADDR is required")
	}
	pool, db, err := BuildPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	app := &App{redis: redisClient, pool: pool, db: db, logger: logger}
	chatbotMetrics := metrics.NewChatbotMetrics(reg)
	contexts := conversation.NewContextStore(redisClient, logger, chatbotMetrics)

	deps := conversation.Deps{
		Contexts:    contexts,
		Logger:      logger,
		Metrics:     chatbotMetrics,
		TurnTimeout: cfg.TurnTimeout,
		Weather:     buildWeather(cfg, redisClient, logger),
	}

	var negative conversation.NegativeFeedbackCounter
	if pool != nil {
		source := catalog.NewPostgresSource(pool)
		cached := catalog.NewCachedSource(source, source, cache.NewRedisStore(redisClient, catalogCachePrefix), logger)
		deps.Catalog = cached
		deps.Customers = cached

		store := feedback.NewStore(pool)
		negative = store
		deps.Ratings = store
		app.dispatcher = feedback.NewDispatcher(store, cfg.FeedbackQueueSize, logger, chatbotMetrics)
		deps.Events = app.dispatcher

		rooms := support.NewRoomStore(db)
		deps.Rooms = rooms
		deps.Escalations = support.NewEscalationService(db, logger)
		app.Sweeper = conversation.NewClosedRoomSweeper(contexts, rooms, logger).
			WithInterval(cfg.ContextSweepInterval).
			WithStaleAfter(cfg.ContextStaleAfter)
	} else {
		logger.Warn("DATABASE_URL not set; serving the demo menu from memory without rooms, feedback or escalation records")
		demo := DemoCatalog()
		deps.Catalog = demo
		deps.Customers = demo
	}

	var chatter conversation.Chatter
	if lm := BuildLanguageModel(ctx, cfg, logger, chatbotMetrics); lm != nil {
		chatter = lm
	}
	deps.Classifier = conversation.NewIntentClassifier(chatter, logger)
	deps.Detector = conversation.NewEscalationDetector(negative, logger)
	deps.Generator = conversation.NewResponseGenerator(chatter, recommendation.NewEngine(), logger, chatbotMetrics)

	app.Service = conversation.NewService(deps)

	var metricsHandler http.Handler
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	app.Handler = router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(app.Service, logger),
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		HealthChecks:        app.healthChecks(),
	})
	return app, nil
}

func buildWeather(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) weather.Provider {
	if strings.TrimSpace(cfg.OpenWeatherAPIKey) == "" {
		logger.Info("weather disabled: OPENWEATHER_API_KEY not set")
		return nil
	}
	upstream := weather.NewOpenWeatherClient(cfg.OpenWeatherBaseURL, cfg.OpenWeatherAPIKey, nil)
	return weather.NewResilientProvider(
		upstream,
		cache.NewRedisStore(redisClient, weatherCachePrefix),
		cfg.WeatherCacheTTL,
		weather.DefaultBreakerConfig(),
		logger,
	)
}

func (a *App) healthChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{
		"redis": func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	}
	if a.pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return a.pool.Ping(ctx) }
	}
	return checks
}

// Shutdown drains queued analytics and closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		if err := a.dispatcher.Shutdown(ctx); err != nil && !errors.Is(err, feedback.ErrDispatcherClosed) {
			errs = append(errs, fmt.Errorf("bootstrap: drain feedback: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: close sql db: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
