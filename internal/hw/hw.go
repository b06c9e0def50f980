// Package hw defines the hardware access capabilities the device-side code
// runs against. All fixed addresses are named constants and every register,
// RAM, and flash access goes through these interfaces, so tests run the real
// protocol logic against the simulated backend in sim.go.
package hw

import "time"

// Flash is the NOR flash controller. Offsets are flash-relative
// (see FlashOffset). Erase granularity is the sector, program granularity
// the page; programming can only clear bits, so the target range must have
// been erased first.
type Flash interface {
	Read(offset uint32, buf []byte) error
	EraseSectors(offset, size uint32) error
	Program(offset uint32, data []byte) error
}

// Mem provides volatile 32-bit word access to RAM locations and
// memory-mapped hardware registers.
type Mem interface {
	Read32(addr uint32) uint32
	Write32(addr, value uint32)
}

// System exposes the terminal low-level operations around a reset.
type System interface {
	// Barrier issues a full memory barrier.
	Barrier()
	// Halt never returns. A hardware port spins forever waiting for the
	// requested reset to take effect; the simulator ends the goroutine.
	Halt()
}

// Interrupts is the save-and-disable primitive for the flash critical
// section.
type Interrupts interface {
	// Disable masks interrupts and returns the state to restore.
	Disable() IRQState
}

// IRQState restores the interrupt state captured by Disable. Restore must
// be called exactly once on every exit path.
type IRQState interface {
	Restore()
}

// Clock provides the fixed delays the protocols need.
type Clock interface {
	Sleep(d time.Duration)
	BusyWait(d time.Duration)
}

// Device bundles the capabilities injected into the boot service and the
// update session.
type Device struct {
	Flash Flash
	Mem   Mem
	Sys   System
	IRQ   Interrupts
	Clock Clock
}
