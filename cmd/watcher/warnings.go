package main

import (
	"go.uber.org/zap"

	"github.com/djlord-it/easy-watcher/internal/config"
)

// logConfigWarnings reports risky but valid settings at startup. P0 means
// data or executions can be lost, P1 means reduced visibility.
func logConfigWarnings(logger *zap.SugaredLogger, cfg config.Config) {
	for _, w := range cfg.Warnings {
		logger.Warnw("WARNING [P1]: " + w)
	}

	if cfg.HistoryBackend == config.BackendMemory {
		logger.Warnw("WARNING [P0]: HISTORY_BACKEND=memory; execution history is lost on restart")
	}
	if cfg.TimeWarp {
		logger.Warnw("WARNING [P0]: TIME_WARP=true; serve never advances the virtual clock, scheduled watches do not fire")
	}
	if !cfg.MetricsEnabled {
		logger.Warnw("WARNING [P1]: METRICS_ENABLED=false; no execution metrics are exported")
	}
	if cfg.HistoryBackend == config.BackendPostgres && !cfg.ProvisionEnabled {
		logger.Infow("INFO: PROVISION_ENABLED=false; history partitions are created on first write")
	}
	if cfg.RedisAddr == "" {
		logger.Infow("INFO: REDIS_ADDR not set; analytics disabled")
	}
}
