package hw

import (
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Flash access errors reported by the simulator.
var (
	ErrFlashRange     = errors.New("flash access out of range")
	ErrFlashAlign     = errors.New("flash access not aligned")
	ErrFlashNotErased = errors.New("flash not erased")
)

// OpKind identifies a journaled hardware mutation.
type OpKind int

const (
	OpErase OpKind = iota
	OpProgram
	OpWrite32
)

// Op is one hardware mutation observed by the simulator. Addr is the
// flash-relative offset for erase/program and the absolute address for
// word writes. Masked reports whether interrupts were disabled at the
// time of the operation.
type Op struct {
	Kind   OpKind
	Addr   uint32
	Size   uint32
	Value  uint32
	Masked bool
}

// Sim is the simulated hardware backend: a 2MB flash image, word-addressed
// RAM/registers, an interrupt mask counter, and a reset latch. Every
// mutation is journaled in order so tests can assert the exact write
// discipline of the code under test.
//
// The fault fields inject a one-shot error into the next matching flash
// operation and then clear themselves.
type Sim struct {
	ReadFault    error
	EraseFault   error
	ProgramFault error

	mu             sync.Mutex
	flash          []byte
	words          map[uint32]uint32
	journal        []Op
	irqDepth       int
	irqFaults      int
	resetRequested bool
	halted         bool
}

// NewSim returns a simulator with fully erased flash.
func NewSim() *Sim {
	flash := make([]byte, FlashSize)
	for i := range flash {
		flash[i] = 0xFF
	}
	return &Sim{
		flash: flash,
		words: make(map[uint32]uint32),
	}
}

// Device returns the capability bundle wired to this simulator.
func (s *Sim) Device() Device {
	return Device{Flash: s, Mem: s, Sys: s, IRQ: s, Clock: s}
}

func (s *Sim) Read(offset uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(&s.ReadFault); err != nil {
		return err
	}
	if int64(offset)+int64(len(buf)) > FlashSize {
		return errors.Wrapf(ErrFlashRange, "read %d bytes at 0x%X", len(buf), offset)
	}
	copy(buf, s.flash[offset:int(offset)+len(buf)])
	return nil
}

func (s *Sim) EraseSectors(offset, size uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(&s.EraseFault); err != nil {
		return err
	}
	if offset%FlashSectorSize != 0 || size%FlashSectorSize != 0 {
		return errors.Wrapf(ErrFlashAlign, "erase %d bytes at 0x%X", size, offset)
	}
	if int64(offset)+int64(size) > FlashSize {
		return errors.Wrapf(ErrFlashRange, "erase %d bytes at 0x%X", size, offset)
	}
	for i := offset; i < offset+size; i++ {
		s.flash[i] = 0xFF
	}
	s.log(Op{Kind: OpErase, Addr: offset, Size: size})
	return nil
}

func (s *Sim) Program(offset uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(&s.ProgramFault); err != nil {
		return err
	}
	if offset%FlashPageSize != 0 || len(data)%FlashPageSize != 0 || len(data) == 0 {
		return errors.Wrapf(ErrFlashAlign, "program %d bytes at 0x%X", len(data), offset)
	}
	if int64(offset)+int64(len(data)) > FlashSize {
		return errors.Wrapf(ErrFlashRange, "program %d bytes at 0x%X", len(data), offset)
	}
	for i, b := range data {
		if s.flash[int(offset)+i] != 0xFF {
			return errors.Wrapf(ErrFlashNotErased, "program at 0x%X", int(offset)+i)
		}
		s.flash[int(offset)+i] = b
	}
	s.log(Op{Kind: OpProgram, Addr: offset, Size: uint32(len(data))})
	return nil
}

func (s *Sim) Read32(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[addr]
}

func (s *Sim) Write32(addr, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words[addr] = value
	if addr == AIRCR && value&0xFFFF0000 == VectKey && value&SysResetReq != 0 {
		s.resetRequested = true
	}
	s.log(Op{Kind: OpWrite32, Addr: addr, Value: value})
}

func (s *Sim) Barrier() {}

// Halt ends the calling goroutine, simulating reset-as-halt: once the
// reset request is latched, no further code in that execution context runs.
func (s *Sim) Halt() {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	runtime.Goexit()
}

func (s *Sim) Disable() IRQState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqDepth++
	return &simIRQState{sim: s}
}

type simIRQState struct {
	sim      *Sim
	restored bool
}

func (t *simIRQState) Restore() {
	t.sim.mu.Lock()
	defer t.sim.mu.Unlock()
	if t.restored {
		t.sim.irqFaults++
		return
	}
	t.restored = true
	t.sim.irqDepth--
}

// Sleep and BusyWait complete instantly in simulation.
func (s *Sim) Sleep(time.Duration) {}

func (s *Sim) BusyWait(time.Duration) {}

// Journal returns a copy of the mutation log in operation order.
func (s *Sim) Journal() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.journal))
	copy(out, s.journal)
	return out
}

// ResetRequested reports whether a valid AIRCR reset request was written.
func (s *Sim) ResetRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetRequested
}

// Halted reports whether Halt was reached.
func (s *Sim) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// IRQDepth returns the current interrupt mask nesting depth.
func (s *Sim) IRQDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irqDepth
}

// IRQFaults counts Restore calls on an already-restored state.
func (s *Sim) IRQFaults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irqFaults
}

// SeedFlash writes directly into the flash image, bypassing the
// erase/program rules. Test setup only.
func (s *Sim) SeedFlash(offset uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.flash[offset:], data)
}

// FlashBytes returns a copy of the flash image range. Test inspection only.
func (s *Sim) FlashBytes(offset, size uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, size)
	copy(out, s.flash[offset:offset+size])
	return out
}

func (s *Sim) log(op Op) {
	op.Masked = s.irqDepth > 0
	s.journal = append(s.journal, op)
}

// takeFault consumes a one-shot injected fault. Caller holds the lock.
func (s *Sim) takeFault(slot *error) error {
	err := *slot
	*slot = nil
	return err
}
