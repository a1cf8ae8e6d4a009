// Package main provides the entry point for the Coverline ingestion server
//
// @title Coverline Ingestion API
// @version 0.3.0
// @description Durable document ingestion pipeline: upload, parse, chunk, embed.
// @host localhost:3002
// @BasePath /
// @schemes http https
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/coverline/coverline/domain/chunks"
	"github.com/coverline/coverline/domain/documents"
	"github.com/coverline/coverline/domain/health"
	"github.com/coverline/coverline/domain/pipeline"
	"github.com/coverline/coverline/domain/scheduler"
	"github.com/coverline/coverline/domain/tracing"
	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/internal/database"
	"github.com/coverline/coverline/internal/server"
	"github.com/coverline/coverline/internal/storage"
	"github.com/coverline/coverline/pkg/embeddings"
	"github.com/coverline/coverline/pkg/logger"
	"github.com/coverline/coverline/pkg/parser"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		// Logging
		fx.Provide(logger.NewLogger),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		config.Module,
		database.Module,
		server.Module,
		storage.Module,
		tracing.Module,

		// External service clients
		parser.Module,
		embeddings.Module,

		// Domain modules
		health.Module,
		documents.Module,
		chunks.Module,
		pipeline.Module,

		// Scheduler module (cron-based maintenance tasks)
		scheduler.Module,
	).Run()
}
