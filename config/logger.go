package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. Output defaults to stdout.
func NewLogger(c Log, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	logg := logrus.New()
	logg.SetOutput(out)
	logg.SetLevel(level)
	switch c.Format {
	case "", "json":
		logg.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return logg, nil
}
