package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	ListenAddr      string
	ShutdownTimeout time.Duration

	// OutputDir receives one subdirectory per run with the produced
	// workbook, validation report and persisted mapping.
	OutputDir string

	// Proposer may be nil; runs must then carry an explicit mapping.
	Proposer mapping.Proposer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.OutputDir == "" {
		return errors.New("output dir is required")
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
