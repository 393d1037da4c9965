package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"profai-backend/config"
	"profai-backend/logger"
	"profai-backend/models"
	"profai-backend/repository"
	"profai-backend/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"
)

// build-embeddings indexes course JSON files into course_passages so the
// server can answer from them on start. Courses are also saved unless
// -index-only is set.
func main() {
	indexOnly := flag.Bool("index-only", false, "only embed passages, do not save the courses")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-index-only] course.json [course.json ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	if err := run(context.Background(), cfg, log, flag.Args(), *indexOnly); err != nil {
		log.Error("Embedding build failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, paths []string, indexOnly bool) error {
	if len(paths) == 0 {
		return errors.New("no course files given")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}

	courses, err := loadCourses(paths)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'course_passages')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check table existence: %w", err)
	}
	if !exists {
		return errors.New("course_passages table does not exist, run cmd/create-schema first")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	embedder := service.NewGeminiEmbedder(client, cfg.Gemini.EmbeddingModel, cfg.Gemini.EmbeddingDims, log)
	index := service.NewPgVectorIndex(
		repository.NewPassageRepository(pool, cfg.Gemini.EmbeddingDims), embedder,
		service.IndexWithLogger(log),
	)
	// Ingest never generates, so the orchestrator only needs a generator to exist.
	orchestrator := service.NewRAGOrchestrator(service.NewGeminiGenerator(client, service.GeminiWithLogger(log)))
	coordinator := service.NewConversationCoordinator(orchestrator, nil,
		service.CoordinatorWithIndex(index),
		service.CoordinatorWithPassageBuilder(service.NewPassageBuilder(
			service.PassageBuilderWithChunking(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		)),
		service.CoordinatorWithLogger(log),
	)
	courseRepo := repository.NewCourseRepository(pool)

	total := 0
	for i, course := range courses {
		if !indexOnly {
			if err := courseRepo.Create(ctx, course); err != nil {
				return fmt.Errorf("%s: failed to save course: %w", paths[i], err)
			}
		}
		n, err := coordinator.Ingest(ctx, course)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		log.Info("Indexed course", "file", filepath.Base(paths[i]), "course_id", course.CourseID, "passages", n)
		total += n
	}

	log.Info("Embeddings built", "courses", len(courses), "passages", total)
	return nil
}

func loadCourses(paths []string) ([]*models.CourseLMS, error) {
	validate := validator.New()
	courses := make([]*models.CourseLMS, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var course models.CourseLMS
		if err := json.Unmarshal(data, &course); err != nil {
			return nil, fmt.Errorf("%s: invalid course JSON: %w", p, err)
		}
		course.Normalize()
		if err := validate.Struct(&course); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		courses = append(courses, &course)
	}
	return courses, nil
}
