package logger

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
)

// retryableHTTPLogger adapts our Logger to go-retryablehttp's LeveledLogger interface
type retryableHTTPLogger struct {
	logger *Logger
}

// GetRetryableHTTPLogger returns a retryable HTTP client-compatible logger
func (l *Logger) GetRetryableHTTPLogger() *retryableHTTPLogger {
	return &retryableHTTPLogger{logger: l}
}

func (r *retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	r.logger.Errorw(msg, keysAndValues...)
}

func (r *retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	r.logger.Debugw(msg, keysAndValues...)
}

func (r *retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.logger.Debugw(msg, keysAndValues...)
}

func (r *retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.logger.Warnw(msg, keysAndValues...)
}

// gooseLogger adapts our Logger to goose's Printf-style logger
type gooseLogger struct {
	logger *Logger
}

func (l *Logger) GetGooseLogger() *gooseLogger {
	return &gooseLogger{logger: l}
}

func (g *gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Errorf(format, v...)
}

func (g *gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Infof(format, v...)
}

// temporalLogger adapts our Logger to the Temporal SDK log.Logger interface
type temporalLogger struct {
	logger *Logger
}

func (l *Logger) GetTemporalLogger() *temporalLogger {
	return &temporalLogger{logger: l}
}

func (t *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	t.logger.Debugw(msg, keyvals...)
}

func (t *temporalLogger) Info(msg string, keyvals ...interface{}) {
	t.logger.Infow(msg, keyvals...)
}

func (t *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	t.logger.Warnw(msg, keyvals...)
}

func (t *temporalLogger) Error(msg string, keyvals ...interface{}) {
	t.logger.Errorw(msg, keyvals...)
}

// watermillLogger adapts our Logger to watermill.LoggerAdapter
type watermillLogger struct {
	logger *Logger
}

func (l *Logger) GetWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{logger: l}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Errorw(msg, append(fieldsToKV(fields), "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Infow(msg, fieldsToKV(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debugw(msg, fieldsToKV(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Debugw(msg, fieldsToKV(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.With(fieldsToKV(fields)...)}
}

func fieldsToKV(fields watermill.LogFields) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}

// ginLogger adapts our Logger to gin's writer
type ginLogger struct {
	logger *Logger
}

// GetGinLogger returns a gin-compatible logger
func (l *Logger) GetGinLogger() *ginLogger {
	return &ginLogger{logger: l}
}

// Write implements the io.Writer interface for gin
func (g *ginLogger) Write(p []byte) (n int, err error) {
	g.logger.Info(string(p))
	return len(p), nil
}

// cronLogger adapts our Logger to robfig/cron's Logger interface
type cronLogger struct {
	logger *Logger
}

func (l *Logger) GetCronLogger() *cronLogger {
	return &cronLogger{logger: l}
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debugw(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Errorw(fmt.Sprintf("%s: %v", msg, err), keysAndValues...)
}
