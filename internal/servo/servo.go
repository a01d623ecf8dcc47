// Package servo — закон управления: оценка фильтра → напряжение подстройки OCXO.
package servo

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfig — недопустимые пределы или полярности.
var ErrConfig = errors.New("servo: invalid config")

// Polarity — знак слагаемого закона. Direct: рост оценки повышает напряжение.
type Polarity float32

const (
	Direct   Polarity = 1
	Inverted Polarity = -1
)

// ParsePolarity разбирает "direct" / "inverted".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "direct":
		return Direct, nil
	case "inverted":
		return Inverted, nil
	}
	return 0, fmt.Errorf("%w: polarity %q", ErrConfig, s)
}

func (p Polarity) String() string {
	if p == Inverted {
		return "inverted"
	}
	return "direct"
}

// Config — коэффициенты и пределы.
type Config struct {
	VMin, VMid, VMax float32
	Kp, Ki, Kd       float32 // частота, фаза, дрейф

	FrequencyPolarity Polarity
	PhasePolarity     Polarity
	DriftPolarity     Polarity
}

// Law — закон без внутреннего состояния:
// V = Vmid + Kp·s_f·offset + Ki·s_p·phase + Kd·s_d·drift, с насыщением в [VMin, VMax].
type Law struct {
	cfg Config
}

// New проверяет пределы VMin ≤ VMid ≤ VMax, VMin < VMax.
func New(cfg Config) (*Law, error) {
	if !(cfg.VMin < cfg.VMax) || !(cfg.VMid >= cfg.VMin && cfg.VMid <= cfg.VMax) {
		return nil, fmt.Errorf("%w: v_min=%g v_mid=%g v_max=%g", ErrConfig, cfg.VMin, cfg.VMid, cfg.VMax)
	}
	for _, p := range []Polarity{cfg.FrequencyPolarity, cfg.PhasePolarity, cfg.DriftPolarity} {
		if p != Direct && p != Inverted {
			return nil, fmt.Errorf("%w: polarity %v", ErrConfig, float32(p))
		}
	}
	return &Law{cfg: cfg}, nil
}

// Compute возвращает напряжение для текущей оценки. Нечисловой результат
// (NaN в состоянии фильтра) даёт VMid.
func (l *Law) Compute(phase, offset, drift float32) float32 {
	c := l.cfg
	v := c.VMid +
		c.Kp*float32(c.FrequencyPolarity)*offset +
		c.Ki*float32(c.PhasePolarity)*phase +
		c.Kd*float32(c.DriftPolarity)*drift
	switch {
	case math.IsNaN(float64(v)):
		return c.VMid
	case v > c.VMax:
		return c.VMax
	case v < c.VMin:
		return c.VMin
	}
	return v
}

// Mid — напряжение покоя (стартовое значение ЦАП).
func (l *Law) Mid() float32 { return l.cfg.VMid }

// Config возвращает параметры закона.
func (l *Law) Config() Config { return l.cfg }
