package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog. Явный levelStr имеет приоритет;
// пустое или нераспознанное значение откатывается к уровню по окружению.
func NewLogger(appEnv, levelStr string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	if levelStr != "" {
		if parsed, err := zerolog.ParseLevel(levelStr); err == nil {
			level = parsed
		}
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	zerolog.TimeFieldFormat = time.RFC3339
	return logger
}
