// Package logger provides the shared logging setup for the domain expiration monitor
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New creates a logger writing human-readable lines to stderr.
// Debug output is enabled when the DEBUG environment variable is "true".
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
