package logger

import (
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the engine logger: JSON lines to logs/sentinel.log
// through a non-blocking buffered writer, mirrored to the console. Level
// comes from LOG_LEVEL.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if err := os.MkdirAll("logs", 0750); err != nil {
		log.Fatalf("Failed to create logs directory: %v", err)
	}

	asyncWriter, err := NewAsyncFileWriter("logs/sentinel.log", 32*1024)
	if err != nil {
		log.Fatalf("Failed to initialize async log writer: %v", err)
	}

	l.SetOutput(asyncWriter)
	l.AddHook(NewConsoleHook())

	return l
}
