package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
	"github.com/shiwa/timecard-mini/gpsdo/internal/ubx"
)

var configureFlags struct {
	port    string
	baud    int
	pulseMs float64
	timeout time.Duration
	waitFix time.Duration
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Настроить 1 PPS на приёмнике u-blox (CFG-TP5) и проверить фикс (NAV-PVT).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if configureFlags.port != "" {
			cfg.Device.Port = configureFlags.port
		}
		if configureFlags.baud != 0 {
			cfg.Device.Baud = configureFlags.baud
		}
		if configureFlags.pulseMs > 0 {
			cfg.Timepulse.PulseWidthMs = configureFlags.pulseMs
		}

		port, err := ubx.Open(cfg.Device.Port, cfg.Device.Baud)
		if err != nil {
			return fmt.Errorf("открытие порта %s: %w", cfg.Device.Port, err)
		}
		defer port.Close()

		tp := ubx.PPSTimePulse(cfg.Timepulse.TPIdx, cfg.Timepulse.PulseWidthMs,
			cfg.Timepulse.AntCableDelayNs, cfg.Timepulse.AlignToTow)
		if err := port.ConfigureTimePulse(cmd.Context(), tp, configureFlags.timeout); err != nil {
			return fmt.Errorf("настройка time pulse: %w", err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Time pulse настроен: %s, %d baud, импульс %.2f мс\n",
				cfg.Device.Port, cfg.Device.Baud, cfg.Timepulse.PulseWidthMs)
		}
		if configureFlags.waitFix <= 0 {
			return nil
		}

		deadline := time.Now().Add(configureFlags.waitFix)
		for {
			pvt, err := port.PollPVT(cmd.Context(), configureFlags.timeout)
			if err != nil {
				logger.Warn("NAV-PVT: %v", err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "fix=%s gnssFixOK=%v sv=%d tAcc=%dns time=%s\n",
					pvt.Fix, pvt.GNSSFixOK, pvt.NumSV, pvt.TAccNs, pvt.Time.Format(time.RFC3339Nano))
				if pvt.Usable() {
					return nil
				}
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("нет пригодного фикса за %v", configureFlags.waitFix)
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(time.Second):
			}
		}
	},
}

func init() {
	f := configureCmd.Flags()
	f.StringVar(&configureFlags.port, "port", "", "последовательный порт приёмника (переопределяет config)")
	f.IntVar(&configureFlags.baud, "baud", 0, "скорость порта (переопределяет config)")
	f.Float64Var(&configureFlags.pulseMs, "pulse-width-ms", 0, "длительность импульса в мс (переопределяет config)")
	f.DurationVar(&configureFlags.timeout, "timeout", 2*time.Second, "ожидание ACK/ответа приёмника")
	f.DurationVar(&configureFlags.waitFix, "wait-fix", 0, "ждать пригодного фикса NAV-PVT; 0 — не ждать")
	rootCmd.AddCommand(configureCmd)
}
