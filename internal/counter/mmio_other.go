//go:build !linux

package counter

import "fmt"

// MMIO — заглушка для не-Linux платформ.
type MMIO struct{}

// OpenMMIO на не-Linux платформах не поддерживается.
func OpenMMIO(device string, base uint64, highOff, lowOff uint32) (*MMIO, error) {
	return nil, fmt.Errorf("mmio counter: only supported on Linux")
}

// High возвращает 0 (заглушка).
func (m *MMIO) High() uint32 { return 0 }

// Low возвращает 0 (заглушка).
func (m *MMIO) Low() uint16 { return 0 }

// Close — заглушка.
func (m *MMIO) Close() error { return nil }
