// Package logctx builds the structured logger every long-lived engine
// component is handed, following the same logrus.Entry-with-WithField
// convention coordinator.Coordinator uses (SPEC_FULL.md §4.7).
package logctx

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a root logrus.Entry configured from format/level strings
// (typically config.EngineConfig.LogFormat/LogLevel): text by default,
// JSON when format is "json".
func New(component, format, level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger.WithField("component", component)
}
