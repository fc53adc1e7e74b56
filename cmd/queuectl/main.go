package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/queuectl"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cmd := queuectl.NewRootCommand(cfg.QueuePath)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(queuectl.GetExitCode(err))
	}
}
