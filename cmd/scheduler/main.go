package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tweet-scout/internal/adapters/api"
	"tweet-scout/internal/adapters/cron"
	"tweet-scout/internal/adapters/generator"
	"tweet-scout/internal/adapters/notify"
	"tweet-scout/internal/adapters/ranker"
	"tweet-scout/internal/adapters/repo"
	"tweet-scout/internal/adapters/twitter"
	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/cache"
	"tweet-scout/internal/infra/config"
	"tweet-scout/internal/infra/db"
	"tweet-scout/internal/infra/governor"
	apphttp "tweet-scout/internal/infra/http"
	applog "tweet-scout/internal/infra/log"
	"tweet-scout/internal/infra/metrics"
	"tweet-scout/internal/infra/openai"
	"tweet-scout/internal/infra/queue"
	engageusecase "tweet-scout/internal/usecase/engage"
	ingestusecase "tweet-scout/internal/usecase/ingest"
	scheduleusecase "tweet-scout/internal/usecase/schedule"
	tokenusecase "tweet-scout/internal/usecase/token"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := domain.ValidateEngagementTones(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: таблица тональностей неполна")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var (
		sweepCache  domain.Cache
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		sweepCache = cache.NewRedis(redisClient)
	}

	// Основной транспорт очереди — RabbitMQ; без него используется Redis.
	var engagementQueue domain.EngagementQueue
	switch {
	case cfg.RabbitURL != "":
		rabbitQueue, err := queue.NewRabbitEngagementQueue(cfg.RabbitURL, cfg.Queues.Engagement)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		engagementQueue = rabbitQueue
	case redisClient != nil:
		engagementQueue = queue.NewRedisEngagementQueue(redisClient, cfg.Queues.Engagement)
	default:
		logger.Fatal().Msg("scheduler: не указан транспорт очереди (RABBITMQ_URL или REDIS_ADDR)")
	}

	notifier, err := notify.NewTelegram(cfg.Notify.BotToken, cfg.Notify.OpsChatID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать нотификатор")
	}

	if cfg.Twitter.ClientID == "" || cfg.Twitter.ClientSecret == "" {
		logger.Fatal().Msg("scheduler: не указаны учётные данные платформы (TWITTER_CLIENT_ID, TWITTER_CLIENT_SECRET)")
	}
	platform := twitter.NewClient(cfg.Twitter.ClientID, cfg.Twitter.ClientSecret, cfg.Twitter.BaseURL)
	executor := governor.New(logger, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)

	tokenService := tokenusecase.NewService(
		repoAdapter, platform, executor, notifier, sweepCache,
		logger, cfg.Tokens.RefreshBuffer, cfg.Tokens.SweepInterval,
	)
	ingestService := ingestusecase.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		platform, tokenService, executor, logger,
		ingestusecase.Config{
			MaxPages:       cfg.Ingest.MaxPages,
			MaxItems:       cfg.Ingest.MaxItems,
			LookbackDays:   cfg.Ingest.LookbackDays,
			ViralThreshold: cfg.Ingest.ViralThreshold,
		},
	)
	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("scheduler: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	simpleRanker := ranker.NewSimple(cfg.Engage.TopItems, 48)
	llmRanker := ranker.NewLLM(openaiClient, simpleRanker, cfg.OpenAI.Model, cfg.OpenAI.Timeout, cfg.Engage.TopItems)
	replyGenerator := generator.NewOpenAI(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	keywordAdvisor := generator.NewKeywordAdvisor(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	engageService := engageusecase.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		llmRanker, replyGenerator, keywordAdvisor, logger,
		engageusecase.Config{
			TopItems:     cfg.Engage.TopItems,
			PoolItems:    cfg.Engage.PoolItems,
			LookbackDays: cfg.Ingest.LookbackDays,
		},
	)

	registry := scheduleusecase.NewRegistry()
	usersCtx, usersCancel := context.WithTimeout(ctx, 10*time.Second)
	users, err := repoAdapter.ListUsersWithAccounts(usersCtx)
	usersCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось загрузить пользователей")
	}
	for _, user := range users {
		registry.Register(user)
	}
	logger.Info().Int("users", registry.Len()).Msg("scheduler: реестр пользователей заполнен")

	planner := scheduleusecase.NewPlanner(ingestService, engageService, repoAdapter, engagementQueue, logger, cfg.TZ)
	runner := cron.NewRunner(logger)
	if err := planner.SyncJobs(runner, registry); err != nil {
		logger.Error().Err(err).Msg("scheduler: часть задач не зарегистрирована")
	}

	sweepSchedule := "@every " + cfg.Tokens.SweepInterval.String()
	err = runner.Register(domain.Job{
		ID:       "token-sweep",
		Schedule: sweepSchedule,
		Handler:  tokenService.SweepSoonExpiring,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось запланировать обновление токенов")
	}

	httpServer := apphttp.NewServer(logger.With().Str("component", "http").Logger())
	api.NewHandler(repoAdapter, repoAdapter, engagementQueue, logger).Mount(httpServer.Router)
	go func() {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("scheduler: HTTP сервер остановлен")
		}
	}()

	runner.Start()
	logger.Info().Msg("scheduler: запущен")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler: HTTP сервер не успел завершиться")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler: задачи не успели завершиться")
	}
	logger.Info().Msg("scheduler: остановлен")
}
