// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"kiosk-control/internal/config"
)

const defaultLogFile = "./logs/kiosk-control.log"

// NewLogger builds the process-wide zap logger from the logging
// configuration. File output rotates through lumberjack.
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(buildEncoder(cfg), sink, level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func buildEncoder(cfg *config.LoggingConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	ec.LevelKey = "level"
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.MessageKey = "message"
	ec.StacktraceKey = "stacktrace"

	if cfg.Format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func buildSink(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	path := cfg.Output
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// HardwareLogger wraps zap.Logger with peripheral-specific functionality
type HardwareLogger struct {
	*zap.Logger
	peripheral string
	transport  string
}

// NewHardwareLogger creates a peripheral-specific logger
func NewHardwareLogger(baseLogger *zap.Logger, peripheral, transport string) *HardwareLogger {
	return &HardwareLogger{
		Logger: baseLogger.With(
			zap.String("peripheral", peripheral),
			zap.String("transport", transport),
			zap.String("component", "hardware"),
		),
		peripheral: peripheral,
		transport:  transport,
	}
}

// LogCommand logs a command exchange with a peripheral board
func (hl *HardwareLogger) LogCommand(command, response string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("command", command),
		zap.Duration("duration", duration),
	}
	if err != nil {
		hl.Error("Hardware command failed", append(fields, zap.Error(err))...)
		return
	}
	hl.Debug("Hardware command completed", append(fields, zap.String("response", response))...)
}

// LogConnection logs connection events
func (hl *HardwareLogger) LogConnection(action string, success bool, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.Bool("success", success),
	}
	if err != nil {
		hl.Error("Peripheral connection event", append(fields, zap.Error(err))...)
		return
	}
	hl.Info("Peripheral connection event", fields...)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{
		Logger: baseLogger.With(
			zap.String("service", serviceName),
			zap.String("component", "service"),
		),
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping",
		zap.String("reason", reason),
	)
}

// LogAPIRequest logs one HTTP request, escalating the level with the
// response status
func (sl *ServiceLogger) LogAPIRequest(method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	switch {
	case statusCode >= 500:
		level = zapcore.ErrorLevel
	case statusCode >= 400:
		level = zapcore.WarnLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("path", path),
			zap.String("user_agent", userAgent),
			zap.String("client_ip", clientIP),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// AuditLogger records money-handling events in a shape the audit
// pipeline can parse
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates an audit-specific logger
func NewAuditLogger(baseLogger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: baseLogger.With(zap.String("component", "audit")),
	}
}

// LogPaymentSession logs a completed or cancelled payment session
func (al *AuditLogger) LogPaymentSession(sessionID string, required, received, change int, status string) {
	al.logger.Info("Payment session",
		zap.String("session_id", sessionID),
		zap.Int("required", required),
		zap.Int("received", received),
		zap.Int("change_dispensed", change),
		zap.String("status", status),
		zap.String("action", "payment_session"),
	)
}

// LogDispense logs a slot dispense attempt
func (al *AuditLogger) LogDispense(sessionID, itemName string, slot int, confirmed bool) {
	al.logger.Info("Slot dispense",
		zap.String("session_id", sessionID),
		zap.String("item", itemName),
		zap.Int("slot", slot),
		zap.Bool("confirmed", confirmed),
		zap.String("action", "slot_dispense"),
	)
}

func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
