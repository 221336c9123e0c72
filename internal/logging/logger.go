package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"backsim/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with a component tag so every engine component logs
// under its own name
type Logger struct {
	*logrus.Logger
	component string
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg config.LoggingConfig) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "file":
		output = createFileWriter(cfg)
	case "both":
		output = io.MultiWriter(os.Stdout, createFileWriter(cfg))
	default:
		output = os.Stdout
	}
	logger.SetOutput(output)

	return &Logger{Logger: logger}
}

// createFileWriter creates a rotating file writer
func createFileWriter(cfg config.LoggingConfig) io.Writer {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		fmt.Printf("Warning: Failed to create log directory: %v\n", err)
		return os.Stdout
	}

	logFile := filepath.Join(cfg.Directory, "backsim.log")

	return &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg config.LoggingConfig) {
	globalLogger = NewLogger(cfg)
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(config.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		})
	}
	return globalLogger
}

// NewComponentLogger creates a logger for a specific component
func NewComponentLogger(component string) *Logger {
	baseLogger := GetGlobalLogger()
	return &Logger{
		Logger:    baseLogger.Logger,
		component: component,
	}
}

func (l *Logger) entry() *logrus.Entry {
	if l.component != "" {
		return l.Logger.WithField("component", l.component)
	}
	return logrus.NewEntry(l.Logger)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry().Warnf(format, args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// WithFields adds fields on top of the component tag
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(fields)
}

// LogFill logs an executed fill
func (l *Logger) LogFill(orderID, symbol, side string, quantity, price, fees float64, quality string) {
	l.WithFields(logrus.Fields{
		"event":    "fill",
		"order_id": orderID,
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"price":    price,
		"fees":     fees,
		"quality":  quality,
		"notional": quantity * price,
	}).Info("Order filled")
}

// LogRisk logs a risk management event
func (l *Logger) LogRisk(riskType string, value, threshold float64, severity string) {
	l.WithFields(logrus.Fields{
		"event":     "risk_event",
		"risk_type": riskType,
		"value":     value,
		"threshold": threshold,
		"severity":  severity,
	}).Warn("Risk limit crossed")
}

// LogPortfolio logs a portfolio snapshot
func (l *Logger) LogPortfolio(cash, equity, realized, unrealized float64, openPositions int) {
	l.WithFields(logrus.Fields{
		"event":          "portfolio_update",
		"cash":           cash,
		"total_equity":   equity,
		"realized_pnl":   realized,
		"unrealized_pnl": unrealized,
		"open_positions": openPositions,
	}).Debug("Portfolio updated")
}
