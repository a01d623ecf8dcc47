package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrPortNotFound — нет USB-порта с заданными VID/PID.
var ErrPortNotFound = errors.New("telemetry: port not found")

// STM32 Virtual COM Port.
const (
	DefaultVID = "0483"
	DefaultPID = "5740"
)

// OpenPort открывает порт хоста для чтения кадров с устройства.
func OpenPort(name string, baud int, readTimeout time.Duration) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if readTimeout > 0 {
		if err := p.SetReadTimeout(readTimeout); err != nil {
			p.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return p, nil
}

// FindPort ищет USB-порт по VID/PID (hex, без учёта регистра).
func FindPort(vid, pid string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	return matchPort(ports, vid, pid)
}

func matchPort(ports []*enumerator.PortDetails, vid, pid string) (string, error) {
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s:%s", ErrPortNotFound, vid, pid)
}
