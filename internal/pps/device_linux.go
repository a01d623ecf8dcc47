//go:build linux

package pps

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux PPS API (include/uapi/linux/pps.h):
// PPS_FETCH = _IOWR('p', 0xa4, struct pps_fdata)
// pps_fdata { pps_kinfo info; pps_ktime timeout; }
// pps_kinfo (48 байт с выравниванием): assert_sequence u32, clear_sequence u32,
// assert_tu, clear_tu (pps_ktime: sec i64, nsec i32, flags u32), current_mode i32.
// ioctl блокируется до следующего события или истечения timeout (flags = 0).
const (
	ppsIoctlFetch  = 0xc04070a4 // _IOWR('p', 0xa4, 64)
	ppsFdataSize   = 64
	ppsAssertSeq   = 0
	ppsTimeoutSec  = 48 // pps_fdata.timeout.sec
	ppsTimeoutNsec = 56 // pps_fdata.timeout.nsec
)

// Device — источник фронтов из ядра (/dev/ppsN). Запускается в отдельной горутине,
// которая играет роль контекста прерывания.
type Device struct {
	path    string
	timeout time.Duration
}

// NewDevice создаёт источник по пути /dev/ppsN.
func NewDevice(path string, timeout time.Duration) *Device {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Device{path: path, timeout: timeout}
}

// Run ждёт события assert и вызывает onEdge на каждом новом номере последовательности.
// Таймаут (нет фронта) не является ошибкой — его обнаруживает сторожевой таймер.
func (d *Device) Run(ctx context.Context, onEdge func()) error {
	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("pps open %s: %w", d.path, err)
	}
	defer f.Close()

	buf := make([]byte, ppsFdataSize)
	var lastSeq uint32
	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seq, err := d.fetch(int(f.Fd()), buf)
		if err != nil {
			if errors.Is(err, unix.ETIMEDOUT) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("pps fetch %s: %w", d.path, err)
		}
		if first || seq != lastSeq {
			first = false
			lastSeq = seq
			onEdge()
		}
	}
}

// fetch выполняет PPS_FETCH с таймаутом и возвращает assert_sequence.
func (d *Device) fetch(fd int, buf []byte) (uint32, error) {
	clear(buf)
	binary.LittleEndian.PutUint64(buf[ppsTimeoutSec:], uint64(d.timeout/time.Second))
	binary.LittleEndian.PutUint32(buf[ppsTimeoutNsec:], uint32(d.timeout%time.Second))
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(ppsIoctlFetch), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return 0, errno
	}
	return binary.LittleEndian.Uint32(buf[ppsAssertSeq:]), nil
}
