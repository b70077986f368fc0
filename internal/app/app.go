package app

import (
	"context"
	"fmt"
	"time"

	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/database"
	"github.com/loomline/voicecore/internal/domains/user"
	"github.com/loomline/voicecore/internal/gateway"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/llm"
	"github.com/loomline/voicecore/internal/plugins"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/internal/speaker"
	"github.com/loomline/voicecore/internal/stt"
	"github.com/loomline/voicecore/internal/stt/whisper"
	"github.com/loomline/voicecore/internal/workers/monitor"
	"github.com/loomline/voicecore/internal/workers/persistence"
	"github.com/loomline/voicecore/internal/workers/postchain"
	"github.com/loomline/voicecore/internal/workers/speechdetect"
	"github.com/loomline/voicecore/internal/workers/transcription"
	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App wires together every core component (C1-C10) the way the teacher's
// own App assembled its domains, repositories and runtime systems in one
// place for cmd/api/main.go to start.
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB
	RC     *redis.Client

	Store        *session.Store
	Fabric       *audiofabric.Fabric
	Queue        *jobqueue.Queue
	Tracker      *jobqueue.DependencyTracker
	ConvoRepo    conversation.Repository
	UserService  user.UserService
	PluginRouter *plugins.Router

	Gateway *gateway.Handler

	PersistenceWorker   *persistence.Worker
	TranscriptionWorker *transcription.Worker
	SpeechDetectWorker  *speechdetect.Worker
	MonitorWorker       *monitor.Worker
	PostchainHandlers   *postchain.Handlers
}

// NewApp constructs every collaborator from cfg. Speaker recognition
// stays unwired unless a concrete speaker.Client lands in this
// constructor — per §6.5 it is an opaque external collaborator, not a
// component this system owns, and both consumers (speechdetect,
// postchain) degrade gracefully when it is nil.
func NewApp(ctx context.Context, cfg *config.Settings, logger *Logger.Logger) (*App, error) {
	gormDB, err := database.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.MigrateDB(gormDB); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	rc, err := database.NewRedis(cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	store := session.NewStore(rc)
	fabric := audiofabric.New(rc, time.Duration(cfg.AudioFabric.DisconnectTTLSeconds)*time.Second)
	convoRepo := conversation.NewGormRepository(gormDB)

	queue := jobqueue.NewQueue(cfg.Queue, logger)
	queueRC := rc
	if cfg.Queue.RedisAddr != "" && cfg.Queue.RedisAddr != cfg.RedisDB.Addr {
		queueRC = redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
	}
	tracker := jobqueue.NewDependencyTracker(queueRC, queue)

	userRepo := user.NewGormUserRepo(gormDB)
	userService := user.NewUserService(userRepo, logger, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	pluginRouter := plugins.NewRouter(store, convoRepo, logger)
	if err := pluginRouter.LoadAndRegister(cfg.PluginConfigPath, map[string]plugins.Plugin{}); err != nil {
		logger.Errorf("loading plugin config %s: %v", cfg.PluginConfigPath, err)
	}

	batchSTT := stt.BatchProvider(whisper.New(cfg.External.WhisperURL, logger))
	streamingSTT := stt.StreamingProvider(stt.NewChunkedStreamingProvider(batchSTT, cfg.External.StreamingChunkInterval))

	var speakerSvc speaker.Client
	if cfg.External.SpeakerServiceURL != "" {
		logger.Errorf("external_services.speaker_service_url is set but no speaker.Client implementation is wired; speaker recognition stays disabled")
	}

	var llmProvider llm.Provider
	if cfg.External.GeminiAPIKey != "" {
		provider, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey:    cfg.External.GeminiAPIKey,
			ModelName: cfg.External.GeminiModel,
		}, logger)
		if err != nil {
			logger.Errorf("creating gemini provider: %v", err)
		} else {
			llmProvider = provider
		}
	}

	gw := gateway.NewHandler(logger, cfg, userService, store, fabric, queue, convoRepo, tracker)

	persistenceWorker := persistence.New(fabric, store, convoRepo, logger, cfg.Persistence)
	transcriptionWorker := transcription.New(fabric, store, streamingSTT, logger)
	speechDetectWorker := speechdetect.New(fabric, store, queue, speakerSvc, logger, cfg.SpeechDetect)
	monitorWorker := monitor.New(fabric, store, convoRepo, tracker, queue, pluginRouter, logger, cfg.Monitor, cfg.PostChain)
	postchainHandlers := postchain.NewHandlers(convoRepo, store, fabric, tracker, batchSTT, speakerSvc, llmProvider, pluginRouter, cfg.PostChain, logger)

	return &App{
		Config:              cfg,
		Logger:              logger,
		DB:                  gormDB,
		RC:                  rc,
		Store:               store,
		Fabric:              fabric,
		Queue:               queue,
		Tracker:             tracker,
		ConvoRepo:           convoRepo,
		UserService:         userService,
		PluginRouter:        pluginRouter,
		Gateway:             gw,
		PersistenceWorker:   persistenceWorker,
		TranscriptionWorker: transcriptionWorker,
		SpeechDetectWorker:  speechDetectWorker,
		MonitorWorker:       monitorWorker,
		PostchainHandlers:   postchainHandlers,
	}, nil
}

// RegisterJobHandlers wires every jobqueue.JobType (§4.3) to its handler,
// mirroring the teacher's registerHandlers/mux.HandleFunc pattern.
func (a *App) RegisterJobHandlers() {
	a.Queue.RegisterHandler(jobqueue.JobSpeechDetection, a.SpeechDetectWorker.Handle)
	a.Queue.RegisterHandler(jobqueue.JobSpeakerCheck, a.SpeechDetectWorker.HandleSpeakerCheck)
	a.Queue.RegisterHandler(jobqueue.JobAudioPersistence, a.PersistenceWorker.Handle)
	a.Queue.RegisterHandler(jobqueue.JobStreamingTranscription, a.TranscriptionWorker.Handle)
	a.Queue.RegisterHandler(jobqueue.JobConversationMonitor, a.MonitorWorker.Handle)
	a.Queue.RegisterHandler(jobqueue.JobBatchRetranscribe, a.PostchainHandlers.HandleBatchRetranscribe)
	a.Queue.RegisterHandler(jobqueue.JobSpeakerRecognition, a.PostchainHandlers.HandleSpeakerRecognition)
	a.Queue.RegisterHandler(jobqueue.JobMemoryExtraction, a.PostchainHandlers.HandleMemoryExtraction)
	a.Queue.RegisterHandler(jobqueue.JobTitleSummary, a.PostchainHandlers.HandleTitleSummary)
	a.Queue.RegisterHandler(jobqueue.JobEventDispatch, a.PostchainHandlers.HandleEventDispatch)
	a.Queue.RegisterHandler(jobqueue.JobTranscriptionFallback, a.PostchainHandlers.HandleTranscriptionFallback)
}

func (a *App) Close() {
	a.Queue.Stop()
	_ = a.RC.Close()
}
