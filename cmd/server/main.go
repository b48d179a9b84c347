package main

import (
	"LlamaLiteClient/internal/ai"
	"LlamaLiteClient/internal/config"
	"LlamaLiteClient/internal/server"
	"LlamaLiteClient/internal/service"
	"LlamaLiteClient/internal/service/image"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// HTTP/WebSocket сервер вокруг узла обмена: POST /v1/chat для разовых запросов,
// GET /v1/session для диалоговых сессий.
func main() {
	cfg := config.NewConfig()
	// создаём предустановленный регистратор zap
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	// делаем регистратор SugaredLogger
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Errorw("Failed to sync logger", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sugar.Infow(
		"Starting app",
		"DebugMode", cfg.DebugMode,
		"BindAddr", cfg.NodeServer.BindAddr,
		"ServerURL", cfg.ServerURL,
		"Model", cfg.Model,
	)

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	factory := func(serverURL string) service.ChatClient {
		if cfg.DebugMode {
			return ai.NewStubClient()
		}
		return ai.NewLlamaClient(serverURL, cfg.APIKey, cfg.Model, timeout, sugar)
	}

	processor := image.NewProcessor(cfg.ImageMaxWidth, cfg.ImageMaxBytes)
	node := service.NewNode(factory, processor, cfg.MaxImages, sugar)

	srv := server.NewNodeServer(cfg, node, sugar)
	if err := srv.Start(ctx); err != nil {
		sugar.Errorw("failed to start server", "error", err)
		return
	}

	// Graceful shutdown on Ctrl+C / SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
		sugar.Warnw("shutdown error", "error", err)
	}
	sugar.Infow("server stopped")
}
