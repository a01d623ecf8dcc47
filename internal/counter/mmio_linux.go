//go:build linux

package counter

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MMIO — регистры CNT таймеров, отображённые из /dev/mem.
// Требует root или CAP_SYS_RAWIO; адреса зависят от платы (см. counter.base_addr в конфиге).
type MMIO struct {
	mem  []byte
	high *uint32
	low  *uint32
}

// OpenMMIO отображает страницу(ы) с регистрами таймеров.
// base — физический адрес блока, highOff/lowOff — смещения регистров CNT от base.
func OpenMMIO(device string, base uint64, highOff, lowOff uint32) (*MMIO, error) {
	if highOff%4 != 0 || lowOff%4 != 0 {
		return nil, fmt.Errorf("mmio: register offsets must be 4-byte aligned")
	}
	f, err := os.OpenFile(device, os.O_RDONLY|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio open %s: %w", device, err)
	}
	defer f.Close()

	page := uint64(os.Getpagesize())
	pageBase := base &^ (page - 1)
	delta := base - pageBase
	span := delta + uint64(max(highOff, lowOff)) + 4
	size := int((span + page - 1) &^ (page - 1))

	mem, err := unix.Mmap(int(f.Fd()), int64(pageBase), size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio mmap 0x%x: %w", pageBase, err)
	}
	return &MMIO{
		mem:  mem,
		high: (*uint32)(unsafe.Pointer(&mem[delta+uint64(highOff)])),
		low:  (*uint32)(unsafe.Pointer(&mem[delta+uint64(lowOff)])),
	}, nil
}

// High читает регистр CNT старшего таймера.
func (m *MMIO) High() uint32 {
	return atomic.LoadUint32(m.high)
}

// Low читает регистр CNT младшего таймера (16 бит).
func (m *MMIO) Low() uint16 {
	return uint16(atomic.LoadUint32(m.low))
}

// Close снимает отображение.
func (m *MMIO) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem, m.high, m.low = nil, nil, nil
	return err
}
