package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
	"github.com/shiwa/timecard-mini/gpsdo/internal/recorder"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
)

func writeRecording(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.csv")
	rec, err := recorder.Create(path, false)
	require.NoError(t, err)
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var raw uint32 = 0xFFF00000
	for i := 0; i < n; i++ {
		raw += 625000 + uint32(i%3) // переполнение счётчика в середине записи
		st := telemetry.Status{
			Time:       start.Add(time.Duration(i) * time.Second),
			Seq:        uint64(i),
			RawCounter: raw,
			FreqOffset: 0.01 + 1e-4*float32(i),
			Rejected:   i == 10,
		}
		require.NoError(t, rec.Emit(st, estimator.Snapshot{}))
	}
	require.NoError(t, rec.Close())
	return path
}

func TestAnalyzeCommand(t *testing.T) {
	path := writeRecording(t, 64)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"analyze", "--quiet", "--replay", path})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	text := out.String()
	assert.Contains(t, text, "64 строк")
	assert.Contains(t, text, "отбраковано 1")
	assert.Contains(t, text, "ADEV")
	assert.Contains(t, text, "старение: +1.000e-04")
	assert.Contains(t, text, "повторный прогон: 63 шагов")
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	configPath = ""
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, uint32(625000), cfg.Oscillator.ExpectedCount)
}

func TestSimulateCommand_RunsUntilDeadline(t *testing.T) {
	configPath = ""
	path := filepath.Join(t.TempDir(), "sim.csv")
	rootCmd.SetArgs([]string{"simulate", "--quiet", "--speed", "1000", "--jitter-ns", "0", "--record", path})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, rootCmd.ExecuteContext(ctx), "отмена по сроку — штатное завершение")

	rows, err := recorder.Read(path)
	require.NoError(t, err)
	assert.Greater(t, len(rows), 10)
}

func TestLoadConfig_AppliesLogSection(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	t.Cleanup(func() {
		configPath = ""
		flags.Lookup("log-level").Changed = false
		logLevel = "info"
		require.NoError(t, logger.Init("info", false))
	})
	flags.Lookup("log-level").Changed = false

	configPath = filepath.Join(t.TempDir(), "gpsdo.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, logger.L().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, flags.Set("log-level", "warn"))
	_, err = loadConfig()
	require.NoError(t, err)
	assert.False(t, logger.L().Core().Enabled(zapcore.InfoLevel), "флаг важнее конфига")
	assert.True(t, logger.L().Core().Enabled(zapcore.WarnLevel))
}
