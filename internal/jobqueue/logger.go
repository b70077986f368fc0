package jobqueue

import (
	"github.com/hibiken/asynq"
	"github.com/loomline/voicecore/pkg/Logger"
)

// AsynqLogger adapts the structured logger to asynq's Logger interface.
type AsynqLogger struct {
	logger *Logger.Logger
}

func NewAsynqLogger(logger *Logger.Logger) asynq.Logger {
	return &AsynqLogger{logger: logger}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.logger.Debug(args...) }
func (l *AsynqLogger) Info(args ...interface{})  { l.logger.Info(args...) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.logger.Warn(args...) }
func (l *AsynqLogger) Error(args ...interface{}) { l.logger.Error(args...) }
func (l *AsynqLogger) Fatal(args ...interface{}) { l.logger.Fatal(args...) }
