// gpsdo — подстройка OCXO по PPS от GNSS: фильтр Калмана по дельтам счётчика,
// закон управления, напряжение в ЦАП.
//
// Использование:
//
//	gpsdo run -c gpsdo.yml        — цикл подстройки на железе
//	gpsdo simulate --speed 100    — тот же цикл на модели генератора
//	gpsdo configure               — настроить time pulse приёмника (CFG-TP5)
//	gpsdo monitor --record a.csv  — приём кадров телеметрии с устройства
//	gpsdo analyze a.csv           — девиация Аллана, старение, повторный прогон фильтра
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiwa/timecard-mini/gpsdo/internal/config"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
)

const defaultConfigPath = "gpsdo.yml"

var (
	configPath string
	logLevel   string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "gpsdo",
	Short: "GPS-disciplined OCXO: PPS capture, Kalman estimator, tuning voltage control.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(logLevel, quiet)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к YAML конфигу (по умолчанию "+defaultConfigPath+", если есть)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "уровень логирования: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "меньше вывода")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("получен сигнал %v, завершение...", sig)
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// loadConfig читает конфиг и применяет его секцию log. Без -c используется gpsdo.yml,
// если он есть, иначе значения по умолчанию.
func loadConfig() (*config.Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	if err := applyLogConfig(cfg.Log); err != nil {
		return nil, fmt.Errorf("config log: %w", err)
	}
	return cfg, nil
}

// applyLogConfig переинициализирует логгер из конфига; явно заданные --log-level и --quiet важнее.
func applyLogConfig(c config.LogConfig) error {
	flags := rootCmd.PersistentFlags()
	level, q := c.Level, c.Quiet
	if flags.Changed("log-level") {
		level = logLevel
	}
	if flags.Changed("quiet") {
		q = quiet
	}
	return logger.Init(level, q)
}

func readConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
