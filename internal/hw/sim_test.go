package hw

import (
	"bytes"
	"errors"
	"testing"
)

func TestSim_FlashStartsErased(t *testing.T) {
	sim := NewSim()

	buf := make([]byte, FlashPageSize)
	if err := sim.Read(0, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, b := range buf {
		if b != 0xFF {
			t.Fatalf("byte %d = 0x%02X, want 0xFF", i, b)
		}
	}
}

func TestSim_ProgramAndRead(t *testing.T) {
	sim := NewSim()

	page := bytes.Repeat([]byte{0xA5}, FlashPageSize)
	if err := sim.Program(FlashPageSize, page); err != nil {
		t.Fatalf("Program failed: %v", err)
	}

	got := make([]byte, FlashPageSize)
	if err := sim.Read(FlashPageSize, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Errorf("read back %v, want %v", got[:4], page[:4])
	}
}

func TestSim_ProgramRejectsUnaligned(t *testing.T) {
	sim := NewSim()

	if err := sim.Program(1, make([]byte, FlashPageSize)); !errors.Is(err, ErrFlashAlign) {
		t.Errorf("unaligned offset: got %v, want ErrFlashAlign", err)
	}
	if err := sim.Program(0, make([]byte, 10)); !errors.Is(err, ErrFlashAlign) {
		t.Errorf("partial page: got %v, want ErrFlashAlign", err)
	}
}

func TestSim_ProgramRequiresErase(t *testing.T) {
	sim := NewSim()

	page := bytes.Repeat([]byte{0x00}, FlashPageSize)
	if err := sim.Program(0, page); err != nil {
		t.Fatalf("first Program failed: %v", err)
	}
	if err := sim.Program(0, page); !errors.Is(err, ErrFlashNotErased) {
		t.Errorf("overwrite: got %v, want ErrFlashNotErased", err)
	}

	if err := sim.EraseSectors(0, FlashSectorSize); err != nil {
		t.Fatalf("EraseSectors failed: %v", err)
	}
	if err := sim.Program(0, page); err != nil {
		t.Errorf("Program after erase failed: %v", err)
	}
}

func TestSim_EraseRejectsUnaligned(t *testing.T) {
	sim := NewSim()

	if err := sim.EraseSectors(FlashPageSize, FlashSectorSize); !errors.Is(err, ErrFlashAlign) {
		t.Errorf("unaligned offset: got %v, want ErrFlashAlign", err)
	}
	if err := sim.EraseSectors(0, FlashSectorSize/2); !errors.Is(err, ErrFlashAlign) {
		t.Errorf("partial sector: got %v, want ErrFlashAlign", err)
	}
}

func TestSim_RangeChecks(t *testing.T) {
	sim := NewSim()

	if err := sim.Read(FlashSize-1, make([]byte, 2)); !errors.Is(err, ErrFlashRange) {
		t.Errorf("read past end: got %v, want ErrFlashRange", err)
	}
	if err := sim.EraseSectors(FlashSize, FlashSectorSize); !errors.Is(err, ErrFlashRange) {
		t.Errorf("erase past end: got %v, want ErrFlashRange", err)
	}
	if err := sim.Program(FlashSize, make([]byte, FlashPageSize)); !errors.Is(err, ErrFlashRange) {
		t.Errorf("program past end: got %v, want ErrFlashRange", err)
	}
}

func TestSim_FaultInjectionIsOneShot(t *testing.T) {
	sim := NewSim()
	injected := errors.New("simulated erase failure")
	sim.EraseFault = injected

	if err := sim.EraseSectors(0, FlashSectorSize); !errors.Is(err, injected) {
		t.Fatalf("first erase: got %v, want injected fault", err)
	}
	if err := sim.EraseSectors(0, FlashSectorSize); err != nil {
		t.Errorf("second erase failed: %v", err)
	}
}

func TestSim_ResetLatch(t *testing.T) {
	sim := NewSim()

	sim.Write32(AIRCR, SysResetReq)
	if sim.ResetRequested() {
		t.Error("reset latched without vector key")
	}

	sim.Write32(AIRCR, VectKey|SysResetReq)
	if !sim.ResetRequested() {
		t.Error("reset not latched by keyed write")
	}
}

func TestSim_HaltEndsGoroutine(t *testing.T) {
	sim := NewSim()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Halt()
		t.Error("code after Halt ran")
	}()
	<-done

	if !sim.Halted() {
		t.Error("Halted() = false after Halt")
	}
}

func TestSim_InterruptMaskDepth(t *testing.T) {
	sim := NewSim()

	outer := sim.Disable()
	inner := sim.Disable()
	if depth := sim.IRQDepth(); depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}

	inner.Restore()
	outer.Restore()
	if depth := sim.IRQDepth(); depth != 0 {
		t.Errorf("depth = %d, want 0", depth)
	}

	outer.Restore()
	if faults := sim.IRQFaults(); faults != 1 {
		t.Errorf("IRQFaults = %d, want 1", faults)
	}
	if depth := sim.IRQDepth(); depth != 0 {
		t.Errorf("depth after double restore = %d, want 0", depth)
	}
}

func TestSim_JournalRecordsMaskState(t *testing.T) {
	sim := NewSim()

	if err := sim.EraseSectors(0, FlashSectorSize); err != nil {
		t.Fatalf("EraseSectors failed: %v", err)
	}

	st := sim.Disable()
	if err := sim.Program(0, make([]byte, FlashPageSize)); err != nil {
		t.Fatalf("Program failed: %v", err)
	}
	st.Restore()

	ops := sim.Journal()
	if len(ops) != 2 {
		t.Fatalf("journal has %d ops, want 2", len(ops))
	}
	if ops[0].Kind != OpErase || ops[0].Masked {
		t.Errorf("op 0 = %+v, want unmasked erase", ops[0])
	}
	if ops[1].Kind != OpProgram || !ops[1].Masked {
		t.Errorf("op 1 = %+v, want masked program", ops[1])
	}
}
