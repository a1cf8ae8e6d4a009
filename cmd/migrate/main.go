// Package main provides the database migration CLI.
//
// Usage:
//
//	migrate -cmd up
//	migrate -cmd up-to -version 3
//	migrate -cmd down
//	migrate -cmd status
//	migrate -cmd version
//	migrate -cmd mark-applied -version 1
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/internal/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "Migration command: up, up-to, down, status, version, mark-applied")
	version := flag.Int64("version", 0, "Target version for up-to and mark-applied")
	flag.Parse()

	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.NewConfig(slog.Default())
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
	defer db.Close()

	m := migrate.NewMigrator(db, logger)

	switch *cmd {
	case "up":
		err = m.Up(ctx)
	case "up-to":
		if *version <= 0 {
			logger.Fatal("up-to requires -version")
		}
		err = m.UpTo(ctx, *version)
	case "down":
		err = m.Down(ctx)
	case "status":
		err = m.Status(ctx)
	case "version":
		var v int64
		v, err = m.Version(ctx)
		if err == nil {
			fmt.Printf("current version: %d\n", v)
		}
	case "mark-applied":
		if *version <= 0 {
			logger.Fatal("mark-applied requires -version")
		}
		if err = m.EnsureVersionTable(ctx); err == nil {
			err = m.MarkApplied(ctx, *version)
		}
	default:
		logger.Fatal("unknown command", zap.String("cmd", *cmd))
	}

	if err != nil {
		logger.Fatal("migration command failed", zap.String("cmd", *cmd), zap.Error(err))
	}
}
