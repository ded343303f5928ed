// Package main is the entry point for the memory engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/config"
	"github.com/antigravity/memoryengine/internal/engine"
	"github.com/antigravity/memoryengine/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("Starting memory engine",
		"base_dir", cfg.BaseDir,
		"strict_validation", cfg.StrictValidation,
	)

	conversationID := getenv("MEMORY_ENGINE_CONVERSATION_ID", "default")
	sessionID := getenv("MEMORY_ENGINE_SESSION_ID", "default")

	e, err := engine.New(cfg, conversationID, sessionID, sugar)
	if err != nil {
		sugar.Fatalf("Failed to construct engine: %v", err)
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.AddMessage(types.ConversationMessage{Role: types.RoleSystem, Content: "memory engine ready"})

	if _, err := e.Commit(ctx); err != nil {
		sugar.Warnw("initial commit skipped", "error", err)
	}

	sugar.Info("memory engine ready; waiting for shutdown signal")
	<-ctx.Done()
	sugar.Info("shutting down")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
