package main

import (
	"context"
	"fmt"
	"os"

	"profai-backend/config"
	"profai-backend/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

type statement struct {
	name string
	sql  string
}

// tables returns the schema in dependency order. The passage embedding
// width follows the configured embedding model.
func tables(dims int) []statement {
	return []statement{
		{
			name: "courses",
			sql: `
CREATE TABLE IF NOT EXISTS courses (
    course_id INTEGER PRIMARY KEY,
    course_title TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMP DEFAULT NOW()
);`,
		},
		{
			name: "course_passages",
			sql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS course_passages (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    source TEXT NOT NULL,
    metadata JSONB DEFAULT '{}'::jsonb,
    embedding vector(%d) NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);`, dims),
		},
		{
			name: "ingest_jobs",
			sql: `
CREATE TABLE IF NOT EXISTS ingest_jobs (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_title TEXT,
    status VARCHAR(50) NOT NULL DEFAULT 'pending',
    current_step VARCHAR(255),
    steps JSONB,
    course_id INTEGER REFERENCES courses(course_id) ON DELETE SET NULL,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW(),
    completed_at TIMESTAMP
);`,
		},
		{
			name: "course_files",
			sql: `
CREATE TABLE IF NOT EXISTS course_files (
    id UUID PRIMARY KEY,
    job_id UUID NOT NULL REFERENCES ingest_jobs(id) ON DELETE CASCADE,
    filename VARCHAR(255) NOT NULL,
    mime_type VARCHAR(100) NOT NULL,
    size BIGINT NOT NULL,
    storage_path TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT NOW()
);`,
		},
		{
			name: "quizzes",
			sql: `
CREATE TABLE IF NOT EXISTS quizzes (
    quiz_id TEXT PRIMARY KEY,
    course_id INTEGER NOT NULL,
    quiz_type VARCHAR(20) NOT NULL CHECK (quiz_type IN ('module', 'course')),
    module_week INTEGER,
    data JSONB NOT NULL,
    created_at TIMESTAMP DEFAULT NOW()
);`,
		},
		{
			name: "quiz_submissions",
			sql: `
CREATE TABLE IF NOT EXISTS quiz_submissions (
    id BIGSERIAL PRIMARY KEY,
    quiz_id TEXT NOT NULL REFERENCES quizzes(quiz_id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    score INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    percentage DOUBLE PRECISION NOT NULL,
    passed BOOLEAN NOT NULL,
    detailed_results JSONB,
    submitted_at TIMESTAMP DEFAULT NOW()
);`,
		},
	}
}

var indexes = []statement{
	{
		name: "Passage similarity search (HNSW)",
		sql: `CREATE INDEX IF NOT EXISTS idx_passages_embedding_hnsw ON course_passages
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
	},
	{
		name: "Passage source filtering",
		sql:  "CREATE INDEX IF NOT EXISTS idx_passages_source ON course_passages(source);",
	},
	{
		name: "Passage metadata filtering",
		sql:  "CREATE INDEX IF NOT EXISTS idx_passages_metadata_gin ON course_passages USING gin (metadata);",
	},
	{
		name: "Ingest job status",
		sql:  "CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);",
	},
	{
		name: "Files by job",
		sql:  "CREATE INDEX IF NOT EXISTS idx_course_files_job_id ON course_files(job_id);",
	},
	{
		name: "Quizzes by course",
		sql:  "CREATE INDEX IF NOT EXISTS idx_quizzes_course_id ON quizzes(course_id);",
	},
	{
		name: "Submissions by quiz",
		sql:  "CREATE INDEX IF NOT EXISTS idx_quiz_submissions_quiz_id ON quiz_submissions(quiz_id);",
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if cfg.Database.URL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Warn("Failed to create pgvector extension", "error", err)
	} else {
		log.Info("pgvector extension enabled")
	}

	for _, t := range tables(cfg.Gemini.EmbeddingDims) {
		if _, err := pool.Exec(ctx, t.sql); err != nil {
			log.Error("Failed to create table", "table", t.name, "error", err)
			pool.Close()
			os.Exit(1)
		}
		log.Info("Created table", "table", t.name)
	}

	created := 0
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx.sql); err != nil {
			log.Warn("Failed to create index", "index", idx.name, "error", err)
			continue
		}
		created++
	}

	log.Info("Database schema ready", "tables", len(tables(0)), "indexes", created, "embedding_dims", cfg.Gemini.EmbeddingDims)
}
