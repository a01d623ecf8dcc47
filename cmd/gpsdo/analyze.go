package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shiwa/timecard-mini/gpsdo/internal/analysis"
	"github.com/shiwa/timecard-mini/gpsdo/internal/recorder"
	"github.com/shiwa/timecard-mini/gpsdo/pkg/discipline"
)

var analyzeFlags struct {
	source string
	replay bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Девиация Аллана, старение и повторный прогон фильтра по записи CSV.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		rows, err := recorder.Read(args[0])
		if err != nil {
			return err
		}
		if len(rows) < 3 {
			return fmt.Errorf("%s: %w", args[0], analysis.ErrTooShort)
		}
		out := cmd.OutOrStdout()
		tau0 := cfg.PeriodDuration().Seconds()

		raw := make([]uint32, len(rows))
		t := make([]float64, len(rows))
		freq := make([]float64, len(rows))
		rejected := 0
		for i, r := range rows {
			raw[i] = r.RawCounter
			t[i] = r.Time.Sub(rows[0].Time).Seconds()
			freq[i] = r.FreqOffset
			if r.Rejected {
				rejected++
			}
		}
		deltas := make([]uint32, len(raw)-1)
		for i := 1; i < len(raw); i++ {
			deltas[i-1] = raw[i] - raw[i-1]
		}

		var y []float64
		switch analyzeFlags.source {
		case "state":
			y = make([]float64, len(freq))
			for i, f := range freq {
				y[i] = f / cfg.Oscillator.NominalHz
			}
		default:
			y = analysis.FractionalFrequency(deltas, float64(cfg.Oscillator.ExpectedCount))
		}

		fmt.Fprintf(out, "%s: %d строк, %.0f с, отбраковано %d\n\n", args[0], len(rows), t[len(t)-1], rejected)
		points, err := analysis.OverlappingADev(y, tau0, nil)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "tau, s\tADEV\t±\tN\t")
		for _, p := range points {
			fmt.Fprintf(tw, "%g\t%.3e\t%.1e\t%d\t\n", p.Tau, p.ADev, p.Err, p.N)
		}
		tw.Flush()

		if fit, err := analysis.FitAging(t, freq); err == nil {
			fmt.Fprintf(out, "\nстарение: %+.3e Гц/с (%+.3e /сутки отн.), R² = %.3f\n",
				fit.Slope, fit.Slope*86400/cfg.Oscillator.NominalHz, fit.R2)
		}

		if !analyzeFlags.replay {
			return nil
		}
		est, err := analysis.Replay(discipline.EstimatorConfig(cfg), raw, discipline.PrefilterConfig(cfg))
		if err != nil {
			return err
		}
		outliers := 0
		for _, e := range est {
			if e.Rejected {
				outliers++
			}
		}
		last := est[len(est)-1]
		fmt.Fprintf(out, "\nповторный прогон: %d шагов, выбросов %d, x = [%+.4f, %+.4f, %+.3e], P11 = %.3e\n",
			len(est), outliers, last.X[0], last.X[1], last.X[2], last.P11)
		return nil
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.source, "source", "deltas", "ряд частоты для ADEV: deltas (дельты счётчика) или state (оценка фильтра)")
	f.BoolVar(&analyzeFlags.replay, "replay", false, "прогнать фильтр заново по значениям счётчика")
	rootCmd.AddCommand(analyzeCmd)
}
