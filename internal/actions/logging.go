package actions

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/template"
)

// LoggingExecutor writes the rendered text to the service log.
type LoggingExecutor struct {
	logger *zap.SugaredLogger
}

func NewLoggingExecutor(logger *zap.SugaredLogger) *LoggingExecutor {
	return &LoggingExecutor{logger: logger}
}

func (e *LoggingExecutor) Type() domain.ActionType { return domain.ActionTypeLogging }

func (e *LoggingExecutor) Execute(_ context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult {
	if spec.Logging == nil {
		return domain.Failure(spec, "logging action has no text")
	}

	level := zapcore.InfoLevel
	if spec.Logging.Level != "" {
		parsed, err := zapcore.ParseLevel(spec.Logging.Level)
		if err != nil {
			return domain.Failure(spec, "unknown log level "+spec.Logging.Level)
		}
		if parsed > zapcore.ErrorLevel {
			return domain.Failure(spec, "unsupported log level "+spec.Logging.Level)
		}
		level = parsed
	}

	text, err := template.Render(spec.Logging.Text, template.Model(ectx))
	if err != nil {
		return domain.Failure(spec, err.Error())
	}

	e.logger.Logw(level, text, "watch_id", ectx.WatchID, "action_id", spec.ID)
	return domain.ActionResult{
		ID:      spec.ID,
		Type:    spec.Type,
		Status:  domain.ActionStatusSuccess,
		Logging: &domain.LoggingResult{Level: level.String(), LoggedText: text},
	}
}
