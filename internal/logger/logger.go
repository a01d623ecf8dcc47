// Package logger — единый вывод логов gpsdo с префиксом и учётом quiet.
// Поверх zap: printf-функции для редких сообщений, L() — для структурированных полей в цикле.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Quiet при true отключает информационные сообщения (Info, Debug); Warn и Error выводятся всегда.
var Quiet bool

var (
	mu   sync.RWMutex
	base = newLogger(zapcore.InfoLevel)
)

// Init пересоздаёт логгер с заданным уровнем ("debug", "info", "warn", "error").
// Неизвестный уровень — ошибка, логгер не меняется.
func Init(level string, quiet bool) error {
	var lvl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	mu.Lock()
	base = newLogger(lvl)
	Quiet = quiet
	mu.Unlock()
	return nil
}

func newLogger(lvl zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), lvl)
	return zap.New(core).Named("gpsdo")
}

// L возвращает zap.Logger для структурированного вывода (поля цикла, диагностика).
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Debug выводит отладочное сообщение, если Quiet == false.
func Debug(format string, args ...interface{}) {
	if Quiet {
		return
	}
	L().Debug(fmt.Sprintf(format, args...))
}

// Info выводит сообщение, если Quiet == false.
func Info(format string, args ...interface{}) {
	if Quiet {
		return
	}
	L().Info(fmt.Sprintf(format, args...))
}

// Warn выводит предупреждение всегда.
func Warn(format string, args ...interface{}) {
	L().Warn(fmt.Sprintf(format, args...))
}

// Error выводит сообщение об ошибке всегда.
func Error(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}

// Sync сбрасывает буферы zap (вызывается при завершении main).
func Sync() {
	_ = L().Sync()
}
