package observ

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogging configures the process-wide logger. Format "console" is for
// humans; everything else gets line-delimited JSON.
func InitLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

func Log(event string, kv map[string]any) {
	logger.Info().Fields(kv).Msg(event)
}

func Warn(event string, kv map[string]any) {
	logger.Warn().Fields(kv).Msg(event)
}

func Error(event string, err error, kv map[string]any) {
	logger.Error().Err(err).Fields(kv).Msg(event)
}
