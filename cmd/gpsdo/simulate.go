package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/shiwa/timecard-mini/gpsdo/internal/sim"
	"github.com/shiwa/timecard-mini/gpsdo/pkg/discipline"
)

var simFlags struct {
	offsetHz float64
	kuHzPerV float64
	aging    float64
	jitterNs float64
	speed    float64
	seed     uint64
	record   string
	listen   string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Цикл подстройки на модели OCXO (без железа).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Counter.Backend = "sim"
		cfg.PPS.Backend = "sim"
		cfg.DAC.Backend = "sim"
		if cfg.Monitor.TemperatureBackend != "host" {
			cfg.Monitor.TemperatureBackend = "none"
		}
		cfg.Telemetry.Serial.Enabled = false
		cfg.Metrics.Listen = simFlags.listen
		if simFlags.record != "" {
			cfg.Telemetry.Record.Enabled = true
			cfg.Telemetry.Record.Path = simFlags.record
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		p := sim.DefaultParams()
		p.OffsetHz = simFlags.offsetHz
		p.KuHzPerV = simFlags.kuHzPerV
		p.AgingHzPerS = simFlags.aging
		p.JitterS = simFlags.jitterNs * 1e-9
		p.Seed = simFlags.seed
		pace := time.Duration(float64(cfg.PeriodDuration()) / max(simFlags.speed, 1))
		// Таймаут сторожа масштабируется вместе с темпом фронтов.
		cfg.Watchdog.Timeout = (time.Duration(float64(cfg.WatchdogTimeout()) / max(simFlags.speed, 1))).String()
		return discipline.RunDaemon(cmd.Context(), cfg, quiet, discipline.WithSim(discipline.SimOptions{Params: p, Pace: pace}))
	},
}

func init() {
	d := sim.DefaultParams()
	f := simulateCmd.Flags()
	f.Float64Var(&simFlags.offsetHz, "offset", d.OffsetHz, "начальное смещение частоты, Гц")
	f.Float64Var(&simFlags.kuHzPerV, "ku", d.KuHzPerV, "крутизна подстройки, Гц/В")
	f.Float64Var(&simFlags.aging, "aging", d.AgingHzPerS, "старение, Гц/с")
	f.Float64Var(&simFlags.jitterNs, "jitter-ns", d.JitterS*1e9, "σ джиттера PPS, нс")
	f.Float64Var(&simFlags.speed, "speed", 1, "ускорение относительно реального времени")
	f.Uint64Var(&simFlags.seed, "seed", d.Seed, "зерно генератора шума")
	f.StringVar(&simFlags.record, "record", "", "писать статус в CSV")
	f.StringVar(&simFlags.listen, "listen", "", "адрес HTTP (/metrics, /api)")
	rootCmd.AddCommand(simulateCmd)
}
