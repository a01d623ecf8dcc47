package main

import (
	"github.com/spf13/cobra"

	"github.com/shiwa/timecard-mini/gpsdo/pkg/discipline"
)

var runFlags struct {
	ppsDevice string
	dacBus    string
	listen    string
	record    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить цикл подстройки (счётчик, PPS, ЦАП из конфига).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runFlags.ppsDevice != "" {
			cfg.PPS.Backend = "ppsdev"
			cfg.PPS.Device = runFlags.ppsDevice
		}
		if runFlags.dacBus != "" {
			cfg.DAC.Backend = "ad5693r"
			cfg.DAC.Bus = runFlags.dacBus
		}
		if cmd.Flags().Changed("listen") {
			cfg.Metrics.Listen = runFlags.listen
		}
		if runFlags.record != "" {
			cfg.Telemetry.Record.Enabled = true
			cfg.Telemetry.Record.Path = runFlags.record
		}
		return discipline.RunDaemon(cmd.Context(), cfg, quiet)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.ppsDevice, "pps-device", "", "PPS устройство ядра (/dev/ppsN), включает backend ppsdev")
	f.StringVar(&runFlags.dacBus, "dac-bus", "", "шина I2C ЦАП AD5693R, включает backend ad5693r")
	f.StringVar(&runFlags.listen, "listen", "", "адрес HTTP (/metrics, /api); пусто — выключено")
	f.StringVar(&runFlags.record, "record", "", "писать статус в CSV (.zst — со сжатием)")
	rootCmd.AddCommand(runCmd)
}
