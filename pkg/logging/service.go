package logging

import (
	"io"
	"os"

	"github.com/dotpulse/ambient_client/pkg/config"
	"github.com/sirupsen/logrus"
)

// writerHook writes entries of the given levels to one output.
type writerHook struct {
	out       io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *writerHook) Levels() []logrus.Level {
	return h.levels
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.out.Write(line)
	return err
}

// New builds the process logger. The console gets entries at cfg.Level and
// above; when cfg.File is set, everything down to debug is also appended there.
// The returned closer releases the log file.
func New(cfg config.LogConfig, console io.Writer) (*logrus.Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetFormatter(formatter(cfg.Format, true))
	logger.SetOutput(console)
	logger.SetLevel(level)

	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	// Route both outputs through hooks so each keeps its own level
	logger.SetOutput(io.Discard)
	logger.SetLevel(max(level, logrus.DebugLevel))
	logger.AddHook(&writerHook{
		out:       console,
		formatter: formatter(cfg.Format, true),
		levels:    logrus.AllLevels[:level+1],
	})
	logger.AddHook(&writerHook{
		out:       file,
		formatter: formatter(cfg.Format, false),
		levels:    logrus.AllLevels[:logrus.DebugLevel+1],
	})
	return logger, file, nil
}

func formatter(format string, console bool) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: !console,
		DisableQuote:  console,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
