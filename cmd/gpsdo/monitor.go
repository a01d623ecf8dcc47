package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiwa/timecard-mini/gpsdo/internal/analysis"
	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
	"github.com/shiwa/timecard-mini/gpsdo/internal/recorder"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
)

var monitorFlags struct {
	port   string
	baud   int
	vid    string
	pid    string
	record string
	json   bool
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Читать кадры телеметрии устройства из последовательного порта.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := monitorFlags.port
		if name == "" {
			var err error
			if name, err = telemetry.FindPort(monitorFlags.vid, monitorFlags.pid); err != nil {
				return err
			}
			logger.Info("monitor: найден порт %s", name)
		}
		port, err := telemetry.OpenPort(name, monitorFlags.baud, 500*time.Millisecond)
		if err != nil {
			return err
		}
		// Закрытие порта прерывает блокирующее чтение при отмене.
		go func() {
			<-cmd.Context().Done()
			port.Close()
		}()

		var rec *recorder.CSV
		if monitorFlags.record != "" {
			if rec, err = recorder.Create(monitorFlags.record, false); err != nil {
				return err
			}
			defer rec.Close()
		}

		out := cmd.OutOrStdout()
		aging := analysis.NewLinReg(analysis.AgingWindow)
		r := telemetry.NewReader(port)
		var snap estimator.Snapshot
		for {
			f, err := r.Next()
			if err != nil {
				if cmd.Context().Err() != nil {
					return nil
				}
				if errors.Is(err, io.ErrNoProgress) {
					continue // таймаут чтения порта
				}
				return err
			}
			switch f.ID {
			case telemetry.MsgKFDebug:
				if s, err := telemetry.UnmarshalSnapshot(f.Payload); err == nil {
					snap = s
				}
			case telemetry.MsgStatus:
				st, err := telemetry.UnmarshalStatus(f.Payload)
				if err != nil {
					logger.Warn("monitor: %v", err)
					continue
				}
				if rec != nil {
					if err := rec.Emit(st, snap); err != nil {
						return err
					}
				}
				if monitorFlags.json {
					b, _ := json.Marshal(struct {
						Status telemetry.Status  `json:"status"`
						KF     telemetry.KFDebug `json:"kf"`
					}{st.JSON(), telemetry.DebugView(snap)})
					fmt.Fprintln(out, string(b))
					continue
				}
				slope, ok := aging.Update(float64(st.Seq), float64(st.FreqOffset))
				agingText := "-"
				if ok {
					agingText = fmt.Sprintf("%+.3e Hz/s", slope)
				}
				fmt.Fprintf(out, "%6d delta=%d phase=%+.4f f=%+.4fHz d=%+.2e V=%.4f T=%.1f rej=%v lost=%v aging=%s\n",
					st.Seq, st.Delta, st.Phase, st.FreqOffset, st.FreqDrift, st.VoltageSet,
					st.TemperatureC, st.Rejected, st.ReferenceLost, agingText)
			}
		}
	},
}

func init() {
	f := monitorCmd.Flags()
	f.StringVar(&monitorFlags.port, "port", "", "порт устройства; пусто — поиск по VID/PID")
	f.IntVar(&monitorFlags.baud, "baud", 115200, "скорость порта")
	f.StringVar(&monitorFlags.vid, "vid", telemetry.DefaultVID, "USB VID для поиска порта")
	f.StringVar(&monitorFlags.pid, "pid", telemetry.DefaultPID, "USB PID для поиска порта")
	f.StringVar(&monitorFlags.record, "record", "", "писать статус в CSV (.zst — со сжатием)")
	f.BoolVar(&monitorFlags.json, "json", false, "выводить JSON вместо строк")
	rootCmd.AddCommand(monitorCmd)
}
