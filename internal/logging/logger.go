package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing JSON lines to stdout at the given level.
// Unknown level names fall back to info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}
