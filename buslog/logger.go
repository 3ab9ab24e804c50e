package buslog

import (
	"go.uber.org/zap"
)

// Config holds the configuration for the bus logger.
type Config struct {
	ServiceName string // "kernel", "ai", "device", ...
	Embedded    bool   // true when running inside the device firmware
	Development bool   // true for development mode
}

// Logger wraps zap.Logger with bus-specific context helpers.
type Logger struct {
	*zap.Logger
	serviceName string
	embedded    bool
}

// New creates a logger for the given configuration. Embedded mode logs
// errors only: the internal bus must not leak traffic metadata into logs.
func New(config Config) (*Logger, error) {
	var zapLogger *zap.Logger
	var err error

	if config.Embedded {
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		zapConfig.DisableCaller = true
		zapConfig.DisableStacktrace = true
		zapLogger, err = zapConfig.Build()
	} else if config.Development {
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zapLogger, err = zapConfig.Build()
	} else {
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		zapLogger, err = zapConfig.Build()
	}
	if err != nil {
		return nil, err
	}

	zapLogger = zapLogger.With(
		zap.String("service", config.ServiceName),
		zap.Bool("embedded", config.Embedded),
	)

	return &Logger{
		Logger:      zapLogger,
		serviceName: config.ServiceName,
		embedded:    config.Embedded,
	}, nil
}

// Nop returns a logger that discards everything. Used by components whose
// caller did not supply a logger.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithSession returns a logger scoped to a session id.
func (l *Logger) WithSession(sessionID string) *zap.Logger {
	if sessionID == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("session_id", sessionID))
}

// WithChannel returns a logger scoped to a channel loop.
func (l *Logger) WithChannel(channel string) *zap.Logger {
	if channel == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("channel", channel))
}

// WithPeer returns a logger scoped to a peer component identity.
func (l *Logger) WithPeer(peer string) *zap.Logger {
	if peer == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("peer", peer))
}

// Security logs a security-relevant event. These are always logged, even in
// embedded mode.
func (l *Logger) Security(msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, append(fields, zap.Bool("security_event", true))...)
}

// Critical logs an error that must never be suppressed.
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, zap.Bool("critical", true))...)
}

// DebugIf logs at debug level only outside embedded mode.
func (l *Logger) DebugIf(msg string, fields ...zap.Field) {
	if !l.embedded {
		l.Logger.Debug(msg, fields...)
	}
}

// InfoIf logs at info level only outside embedded mode.
func (l *Logger) InfoIf(msg string, fields ...zap.Field) {
	if !l.embedded {
		l.Logger.Info(msg, fields...)
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
