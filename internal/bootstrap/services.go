package bootstrap

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docqa/internal/ai"
	appsvc "docqa/internal/app"
	"docqa/internal/cache"
	"docqa/internal/config"
	"docqa/internal/metrics"
	"docqa/internal/pkg/textextract"
	rabbitmqClient "docqa/internal/platform/rabbitmq"
	"docqa/internal/rag"
	"docqa/internal/repository"
	"docqa/internal/vectorindex/memory"
	"docqa/internal/vectorindex/redisstore"
)

type services struct {
	orchestrator *rag.Orchestrator
	auth         *appsvc.AuthService
	documents    *appsvc.DocumentService
	qa           *appsvc.QAService
}

func buildServices(
	cfg *config.Config,
	db *gorm.DB,
	redisCli redis.UniversalClient,
	mqConn rabbitmqClient.ChannelOpener,
	m *metrics.Metrics,
) (*services, error) {
	userRepo := repository.NewUserRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	sessionRepo := repository.NewQASessionRepository(db)
	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	index, err := newVectorIndex(cfg.Retrieval, redisCli)
	if err != nil {
		return nil, err
	}

	orchestrator, err := rag.NewOrchestrator(rag.Config{
		TopK:            cfg.Retrieval.TopK,
		GenerateTimeout: time.Duration(cfg.Retrieval.GenerateTimeoutSeconds) * time.Second,
		EmbedWorkers:    cfg.Retrieval.EmbedWorkers,
	}, rag.Dependencies{
		Chunker:   rag.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		Embedder:  rag.NewHashEmbedder(cfg.Retrieval.Dimension),
		Index:     index,
		Generator: newAnswerGenerator(cfg),
		Store:     appsvc.NewSessionRecorder(sessionRepo, historyCache),
		Status:    documentRepo,
		Observer:  m,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator failed: %w", err)
	}

	var publisher appsvc.IngestPublisher
	if mqConn != nil {
		publisher = rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	}

	return &services{
		orchestrator: orchestrator,
		auth: appsvc.NewAuthService(
			userRepo,
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		),
		documents: appsvc.NewDocumentService(documentRepo, orchestrator, publisher, textextract.Limits{
			MaxBytes:     cfg.Upload.MaxFileBytes,
			MinBytes:     cfg.Upload.MinFileBytes,
			AllowedTypes: cfg.Upload.AllowedTypes,
		}, cfg.Retrieval.AsyncIngest),
		qa: appsvc.NewQAService(orchestrator, sessionRepo, historyCache),
	}, nil
}

// newVectorIndex picks the index backend named in configuration.
func newVectorIndex(cfg config.RetrievalConfig, redisCli redis.UniversalClient) (rag.VectorIndex, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendMemory:
		return memory.New(cfg.Dimension), nil
	case config.IndexBackendRedis:
		if redisCli == nil {
			return nil, fmt.Errorf("redis index backend requires a redis client")
		}
		return redisstore.New(redisCli, cfg.RedisPrefix, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

func newAnswerGenerator(cfg *config.Config) *ai.AnswerGenerator {
	initial, maxInterval, breakerInterval, breakerTimeout := cfg.Resilience.Durations()
	return ai.NewAnswerGenerator(
		ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		ai.ResilienceConfig{
			MaxRetries:          cfg.Resilience.MaxRetries,
			InitialInterval:     initial,
			MaxInterval:         maxInterval,
			BreakerMaxRequests:  uint32(cfg.Resilience.BreakerMaxRequests),
			BreakerInterval:     breakerInterval,
			BreakerTimeout:      breakerTimeout,
			BreakerFailureRatio: cfg.Resilience.BreakerFailureRatio,
			BreakerMinRequests:  uint32(cfg.Resilience.BreakerMinRequests),
		},
	)
}
