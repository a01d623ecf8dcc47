//go:build !linux

package pps

import (
	"context"
	"fmt"
	"time"
)

// Device — заглушка для не-Linux платформ.
type Device struct {
	path string
}

// NewDevice создаёт заглушку.
func NewDevice(path string, timeout time.Duration) *Device {
	return &Device{path: path}
}

// Run всегда возвращает ошибку: PPS API ядра есть только в Linux.
func (d *Device) Run(ctx context.Context, onEdge func()) error {
	return fmt.Errorf("pps device %s: only supported on Linux", d.path)
}
