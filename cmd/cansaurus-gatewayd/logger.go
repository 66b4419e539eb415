package main

import (
	"log/slog"
	"os"

	"github.com/bondus/cansaurus-gatewayd/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.Level(level), os.Stderr).With("app", "cansaurus-gatewayd")
	logging.Set(l)
	return l
}
