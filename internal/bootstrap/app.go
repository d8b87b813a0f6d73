package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"claridoc/internal/ai"
	appsvc "claridoc/internal/app"
	"claridoc/internal/cache"
	"claridoc/internal/config"
	"claridoc/internal/model"
	mysqlClient "claridoc/internal/platform/mysql"
	rabbitmqClient "claridoc/internal/platform/rabbitmq"
	redisClient "claridoc/internal/platform/redis"
	"claridoc/internal/repository"
	"claridoc/internal/retrieval"
	"claridoc/internal/storage"
	"claridoc/internal/worker"
)

// App holds the wired application: infrastructure connections, the services
// the HTTP layer serves, and the background workers.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	ObjectStore *storage.ObjectStore

	Auth      *appsvc.AuthService
	Documents *appsvc.DocumentService
	QA        *appsvc.QAService

	ingestWorker  *worker.IngestWorker
	messageWorker *worker.MessagePersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.Chunk{},
		&model.QASession{},
		&model.Message{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	objectStore, err := storage.New(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}

	userRepo := repository.NewUserRepository(mysqlDB)
	docRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB, cfg.Retrieval.StoreWriteBatchSize)
	sessionRepo := repository.NewQASessionRepository(mysqlDB)
	messageRepo := repository.NewMessageRepository(mysqlDB)

	llmClient := ai.NewOpenAICompatibleClient()
	chatCfg := ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}
	embedder := appsvc.NewEmbedder(llmClient, ai.EmbeddingConfig{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.EmbeddingModel,
		Dimensions: cfg.Retrieval.EmbeddingDimensions,
	})

	queryCache := cache.NewQueryVectorCache(
		redisCli,
		cfg.LLM.EmbeddingModel,
		cfg.Retrieval.EmbeddingDimensions,
		time.Duration(cfg.Redis.QueryVectorTTLSeconds)*time.Second,
		logger,
	)
	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
	)

	retriever := retrieval.NewRetriever(chunkRepo, embedder, queryCache, retrieval.Config{
		Dimensions:        cfg.Retrieval.EmbeddingDimensions,
		PrefilterCap:      cfg.Retrieval.AskPrefilterCap,
		EmbedBatchSize:    cfg.Retrieval.EmbeddingBatchSize,
		ChunkTargetWords:  cfg.Retrieval.ChunkTargetWords,
		ChunkOverlapWords: cfg.Retrieval.ChunkOverlapWords,
	}, logger)

	ingestPublisher := rabbitmqClient.NewPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	persistPublisher := rabbitmqClient.NewPublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	documentService := appsvc.NewDocumentService(
		docRepo, chunkRepo, objectStore, ingestPublisher, embedder, cfg.Retrieval, logger,
	)
	qaService := appsvc.NewQAService(
		docRepo, retriever, llmClient, chatCfg,
		sessionRepo, messageRepo, historyCache, persistPublisher,
		appsvc.DefaultRiskRules(), cfg.Retrieval.SearchPrefilterCap, logger,
	)

	ingestWorker := worker.NewIngestWorker(mqConn, documentService, cfg.RabbitMQ.IngestQueue, logger)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}
	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue, logger)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		ObjectStore:   objectStore,
		Auth:          authService,
		Documents:     documentService,
		QA:            qaService,
		ingestWorker:  ingestWorker,
		messageWorker: messageWorker,
		StartedAt:     time.Now(),
	}, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.App.Env == "dev" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.App.LogLevel)
	if err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

func (a *App) Close() error {
	var closeErr error
	if a.ingestWorker != nil {
		a.ingestWorker.Close()
	}
	if a.messageWorker != nil {
		a.messageWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
