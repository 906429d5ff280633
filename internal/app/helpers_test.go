package app

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// newTestLogger возвращает logger без вывода для тестов.
func newTestLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", "app")
}
