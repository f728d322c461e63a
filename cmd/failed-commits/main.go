package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/V4T54L/honeyledger/internal/adapter/repository/wal"
	"github.com/V4T54L/honeyledger/internal/domain"
	"github.com/V4T54L/honeyledger/internal/pkg/logger"
)

// failed-commits prints every journaled failed commit as one JSON line, oldest first,
// so an operator can resubmit or archive them.
func main() {
	dir := flag.String("dir", envOr("JOURNAL_PATH", "./data/failed-commits"), "failed-commit journal directory")
	truncate := flag.Bool("truncate", false, "remove the journal after printing it")
	level := flag.String("log-level", envOr("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	log := logger.New(*level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Segment and total limits only matter for writers.
	journal, err := wal.NewJournal(*dir, 1<<62, 1<<62, log)
	if err != nil {
		log.Error("failed to open journal", "dir", *dir, "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	enc := json.NewEncoder(os.Stdout)
	count := 0
	err = journal.Replay(ctx, func(rec domain.CommitRecord) error {
		count++
		return enc.Encode(rec)
	})
	if err != nil {
		log.Error("failed to replay journal", "error", err)
		os.Exit(1)
	}
	log.Info("journal replayed", "records", count)

	if *truncate {
		if err := journal.Truncate(ctx); err != nil {
			log.Error("failed to truncate journal", "error", err)
			os.Exit(1)
		}
		log.Info("journal truncated", "dir", *dir)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
