// Package recorder — запись статуса цикла в CSV (опционально со сжатием zstd) и чтение обратно.
package recorder

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
)

// Header — столбцы файла.
var Header = []string{
	"timestamp", "raw_counter_value", "phase", "freq_offset", "freq_drift",
	"voltage_set", "voltage_measured", "temperature", "rejected",
}

// Row — одна строка записи.
type Row struct {
	Time            time.Time
	RawCounter      uint32
	Phase           float64
	FreqOffset      float64
	FreqDrift       float64
	VoltageSet      float64
	VoltageMeasured float64
	Temperature     float64
	Rejected        bool
}

// CSV пишет строки статуса. Реализует telemetry.Emitter.
type CSV struct {
	mu  sync.Mutex
	f   *os.File
	bw  *bufio.Writer
	zw  *zstd.Encoder
	w   *csv.Writer
	rec []string
}

// Create создаёт файл; суффикс .zst включает сжатие zstd независимо от compress.
func Create(path string, compress bool) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	c := &CSV{f: f, bw: bufio.NewWriter(f), rec: make([]string, len(Header))}
	var out io.Writer = c.bw
	if compress || strings.HasSuffix(path, ".zst") {
		c.zw, err = zstd.NewWriter(c.bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("recorder zstd: %w", err)
		}
		out = c.zw
	}
	c.w = csv.NewWriter(out)
	if err := c.w.Write(Header); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Emit записывает строку и сбрасывает буфер csv.
func (c *CSV) Emit(st telemetry.Status, _ estimator.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec[0] = st.Time.UTC().Format(time.RFC3339Nano)
	c.rec[1] = strconv.FormatUint(uint64(st.RawCounter), 10)
	c.rec[2] = formatFloat(st.Phase)
	c.rec[3] = formatFloat(st.FreqOffset)
	c.rec[4] = formatFloat(st.FreqDrift)
	c.rec[5] = formatFloat(st.VoltageSet)
	c.rec[6] = formatFloat(st.VoltageMeasured)
	c.rec[7] = formatFloat(st.TemperatureC)
	c.rec[8] = strconv.FormatBool(st.Rejected)
	if err := c.w.Write(c.rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// Close дописывает кадр zstd и закрывает файл.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(c.w.Error())
	if c.zw != nil {
		keep(c.zw.Close())
	}
	keep(c.bw.Flush())
	keep(c.f.Close())
	return firstErr
}

// Read читает файл записи (.zst распаковывается).
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var in io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(in)
		if err != nil {
			return nil, fmt.Errorf("recorder zstd: %w", err)
		}
		defer zr.Close()
		in = zr
	}
	return ReadRows(in)
}

// ReadRows разбирает CSV с заголовком Header.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("recorder header: %w", err)
	}
	if head[0] != Header[0] {
		return nil, fmt.Errorf("recorder: unexpected header %q", head)
	}
	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		row, err := parseRow(rec)
		if err != nil {
			return rows, fmt.Errorf("recorder line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string) (Row, error) {
	var r Row
	var err error
	if r.Time, err = time.Parse(time.RFC3339Nano, rec[0]); err != nil {
		return r, err
	}
	raw, err := strconv.ParseUint(rec[1], 10, 32)
	if err != nil {
		return r, err
	}
	r.RawCounter = uint32(raw)
	for i, dst := range []*float64{&r.Phase, &r.FreqOffset, &r.FreqDrift, &r.VoltageSet, &r.VoltageMeasured, &r.Temperature} {
		if *dst, err = strconv.ParseFloat(rec[2+i], 64); err != nil {
			return r, err
		}
	}
	r.Rejected, err = strconv.ParseBool(rec[8])
	return r, err
}
