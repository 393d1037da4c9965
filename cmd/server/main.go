package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"profai-backend/config"
	"profai-backend/handlers"
	"profai-backend/logger"
	"profai-backend/metrics"
	"profai-backend/quality"
	"profai-backend/repository"
	"profai-backend/service"
	"profai-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"
)

const queryCacheSize = 512

// stores bundles the persistence used by the services; memory or Postgres.
type stores struct {
	index   service.KnowledgeIndex
	courses service.CourseStore
	jobs    service.JobStore
	files   service.FileStore
	quizzes service.QuizStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	log := logger.Default()

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, log)

	m := metrics.New()

	geminiClient, err := initGemini(ctx, cfg.Gemini, log)
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini: %w", err)
	}
	defer geminiClient.Close()

	generator := service.NewGeminiGenerator(geminiClient,
		service.GeminiWithModel(cfg.Gemini.Model),
		service.GeminiWithMaxPromptLength(cfg.Gemini.MaxPromptLength),
		service.GeminiWithLogger(log),
	)
	embedder, err := service.NewCachedEmbedder(
		service.NewGeminiEmbedder(geminiClient, cfg.Gemini.EmbeddingModel, cfg.Gemini.EmbeddingDims, log),
		queryCacheSize,
	)
	if err != nil {
		return err
	}

	var st stores
	if cfg.Database.URL != "" {
		pool, err := initPostgres(ctx, cfg.Database.URL, log)
		if err != nil {
			return fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		defer pool.Close()
		st = stores{
			index: service.NewPgVectorIndex(
				repository.NewPassageRepository(pool, cfg.Gemini.EmbeddingDims), embedder,
				service.IndexWithTopK(cfg.RAG.TopK), service.IndexWithLogger(log),
			),
			courses: repository.NewCourseRepository(pool),
			jobs:    repository.NewIngestJobRepository(pool),
			files:   repository.NewFileRepository(pool),
			quizzes: repository.NewQuizRepository(pool),
		}
	} else {
		log.Warn("DATABASE_URL not set, keeping courses and passages in memory")
		st = stores{
			index:   service.NewMemoryIndex(embedder, service.IndexWithTopK(cfg.RAG.TopK), service.IndexWithLogger(log)),
			courses: repository.NewMemoryCourseStore(),
			jobs:    repository.NewMemoryJobStore(),
			files:   repository.NewMemoryFileStore(),
			quizzes: repository.NewMemoryQuizStore(),
		}
	}

	fileStorage, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", "type", cfg.Storage.Type)

	if cfg.Sarvam.APIKey == "" {
		log.Warn("SARVAM_API_KEY not set, translation and speech calls will fail")
	}
	sarvam, err := service.NewSarvamClient(cfg.Sarvam.APIKey,
		service.SarvamWithBaseURL(cfg.Sarvam.BaseURL),
		service.SarvamWithTimeout(cfg.Sarvam.Timeout),
		service.SarvamWithSpeaker(cfg.Sarvam.Speaker),
		service.SarvamWithCacheSize(cfg.Sarvam.CacheSize),
		service.SarvamWithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Sarvam client: %w", err)
	}

	validator := quality.NewResponseValidator(
		quality.WithRecorder(m),
		quality.WithLogger(log),
	)
	orchestrator := service.NewRAGOrchestrator(generator,
		service.RAGWithValidator(validator),
		service.RAGWithRecorder(m),
		service.RAGWithLogger(log),
	)
	coordinator := service.NewConversationCoordinator(orchestrator, sarvam,
		service.CoordinatorWithIndex(st.index),
		service.CoordinatorWithPassageBuilder(service.NewPassageBuilder(
			service.PassageBuilderWithChunking(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		)),
		service.CoordinatorWithRecorder(m),
		service.CoordinatorWithLogger(log),
	)
	if _, err := coordinator.Attach(ctx); err != nil {
		log.Warn("Knowledge index not attached", "error", err)
	}

	courseService := service.NewCourseService(
		service.CourseWithCourseStore(st.courses),
		service.CourseWithJobStore(st.jobs),
		service.CourseWithFileStore(st.files),
		service.CourseWithStorage(fileStorage),
		service.CourseWithGenerator(generator),
		service.CourseWithEmbedder(embedder),
		service.CourseWithCoordinator(coordinator),
		service.CourseWithValidator(validator),
		service.CourseWithChunking(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		service.CourseWithLogger(log),
	)
	quizService := service.NewQuizService(st.courses, st.quizzes, generator, log)
	audioService := service.NewAudioService(sarvam, log)

	chatHandler := handlers.NewChatHandler(coordinator, audioService, log)
	courseHandler := handlers.NewCourseHandler(courseService, cfg.Server.MaxUploadMB<<20, cfg.Server.IngestTimeout, log)
	quizHandler := handlers.NewQuizHandler(quizService)
	streamHandler := handlers.NewStreamHandler(coordinator, audioService, cfg.Server.OriginPatterns(), log)

	r := gin.New()
	r.Use(gin.Recovery(), m.GinMiddleware())
	r.MaxMultipartMemory = cfg.Server.MaxUploadMB << 20

	r.GET("/health", chatHandler.Health)
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/ws/audio-stream", streamHandler.AudioStream)

	api := r.Group("/api")
	{
		// Chat and voice
		api.POST("/chat", chatHandler.Chat)
		api.POST("/chat-with-audio", chatHandler.ChatWithAudio)
		api.POST("/transcribe", chatHandler.Transcribe)

		// Courses
		api.POST("/upload-pdfs", courseHandler.UploadPDFs)
		api.GET("/jobs/:id", courseHandler.GetJobStatus)
		api.GET("/courses", courseHandler.ListCourses)
		api.GET("/course/:id", courseHandler.GetCourse)

		// Quizzes
		api.POST("/quiz/generate-module", quizHandler.GenerateModuleQuiz)
		api.POST("/quiz/generate-course", quizHandler.GenerateCourseQuiz)
		api.POST("/quiz/submit", quizHandler.SubmitQuiz)
		api.GET("/quiz/:id", quizHandler.GetQuiz)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port, "retrieval", coordinator.Available())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initPostgres(ctx context.Context, url string, log logger.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Warn("Failed to create pgvector extension, it may need superuser privileges", "error", err)
	}
	log.Info("Postgres connection established with pgvector support")
	return pool, nil
}

func initGemini(ctx context.Context, cfg config.GeminiConfig, log logger.Logger) (*genai.Client, error) {
	if cfg.APIKey == "" {
		log.Warn("GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}
	log.Info("Gemini client initialized", "model", cfg.Model)
	return client, nil
}
