package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tweet-scout/internal/adapters/generator"
	"tweet-scout/internal/adapters/ranker"
	"tweet-scout/internal/adapters/repo"
	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/config"
	"tweet-scout/internal/infra/db"
	applog "tweet-scout/internal/infra/log"
	"tweet-scout/internal/infra/metrics"
	"tweet-scout/internal/infra/openai"
	"tweet-scout/internal/infra/queue"
	engageusecase "tweet-scout/internal/usecase/engage"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := domain.ValidateEngagementTones(); err != nil {
		logger.Fatal().Err(err).Msg("worker: таблица тональностей неполна")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	// Основной транспорт очереди — RabbitMQ; без него используется Redis.
	var engagementQueue domain.EngagementQueue
	switch {
	case cfg.RabbitURL != "":
		rabbitQueue, err := queue.NewRabbitEngagementQueue(cfg.RabbitURL, cfg.Queues.Engagement)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		engagementQueue = rabbitQueue
	case cfg.RedisAddr != "":
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		engagementQueue = queue.NewRedisEngagementQueue(redisClient, cfg.Queues.Engagement)
	default:
		logger.Fatal().Msg("worker: не указан транспорт очереди (RABBITMQ_URL или REDIS_ADDR)")
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("worker: не указан ключ OpenAI (OPENAI_API_KEY)")
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

	worker := &jobWorker{
		log:      logger,
		queue:    engagementQueue,
		statuses: repoAdapter,
		service:  engageService,
	}

	logger.Info().Msg("worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type jobWorker struct {
	log      zerolog.Logger
	queue    domain.EngagementQueue
	statuses domain.EngagementJobStatusRepo
	service  *engageusecase.Service
}

const maxDeliveryAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("user", job.UserID).
			Int64("account", job.AccountID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
			}
			continue
		}

		delivered, attempt, err := w.statuses.EnsureEngagementJob(ctx, job.ID)
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}

		jobLog = jobLog.With().Int("attempt", attempt).Logger()

		if delivered {
			jobLog.Info().Msg("worker: задача уже была доставлена, подтверждаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить ранее доставленную задачу")
			}
			continue
		}

		outcome := w.handleJob(ctx, job, jobLog)

		if outcome == jobOutcomeRetry && attempt < maxDeliveryAttempts {
			jobLog.Warn().Msg("worker: задача завершилась ошибкой, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу после ошибки")
			}
			continue
		}

		if outcome == jobOutcomeRetry {
			jobLog.Error().Msg("worker: достигнут предел попыток, помечаем задачу как завершённую")
		}

		if err := w.statuses.MarkEngagementJobDelivered(ctx, job.ID); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу доставленной")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки статуса")
			}
			time.Sleep(time.Second)
			continue
		}

		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

func (w *jobWorker) handleJob(ctx context.Context, job domain.EngagementJob, jobLog zerolog.Logger) jobOutcome {
	if err := w.service.PrepareDrafts(ctx, job); err != nil {
		jobLog.Error().Err(err).Msg("worker: подготовка черновиков не удалась")
		return jobOutcomeRetry
	}
	return jobOutcomeCompleted
}
