package bootdata

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ADNTIO/crispy-go/internal/hw"
)

func TestDefault_IsValidAndUnconfirmed(t *testing.T) {
	d := Default()

	if !d.IsValid() {
		t.Error("default record not valid")
	}
	if d.IsConfirmed() {
		t.Error("default record confirmed")
	}
	if d.ActiveBank != BankA {
		t.Errorf("ActiveBank = %d, want %d", d.ActiveBank, BankA)
	}
}

func TestBootData_MarshalLayout(t *testing.T) {
	d := BootData{
		Magic:        Magic,
		ActiveBank:   1,
		Confirmed:    1,
		BootAttempts: 3,
		VersionA:     0x11223344,
		VersionB:     0x55667788,
		CRCA:         0xAABBCCDD,
		CRCB:         0x01020304,
		SizeA:        0x000C0000,
		SizeB:        0x00000100,
	}

	got, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	want := []byte{
		0x7A, 0xDA, 0x07, 0xB0,
		0x01, 0x01, 0x03, 0x00,
		0x44, 0x33, 0x22, 0x11,
		0x88, 0x77, 0x66, 0x55,
		0xDD, 0xCC, 0xBB, 0xAA,
		0x04, 0x03, 0x02, 0x01,
		0x00, 0x00, 0x0C, 0x00,
		0x00, 0x01, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("marshaled record = % X, want % X", got, want)
	}
}

func TestBootData_Roundtrip(t *testing.T) {
	orig := Default()
	orig.SetBankInfo(BankB, 0x00010203, 0xDEADBEEF, 4096)
	orig.ActiveBank = BankB
	orig.BootAttempts = 2

	raw, err := orig.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	var back BootData
	if err := back.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if back != orig {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", back, orig)
	}
}

func TestBootData_UnmarshalShort(t *testing.T) {
	var d BootData
	if err := d.UnmarshalBinary(make([]byte, Size-1)); err == nil {
		t.Error("expected error for short input")
	}
}

func TestBootData_ErasedFlashIsInvalid(t *testing.T) {
	var d BootData
	if err := d.UnmarshalBinary(bytes.Repeat([]byte{0xFF}, Size)); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if d.IsValid() {
		t.Error("erased record reported valid")
	}
}

func TestBankAddr(t *testing.T) {
	if addr := BankAddr(BankA); addr != hw.BankAAddr {
		t.Errorf("BankAddr(A) = 0x%X, want 0x%X", addr, uint32(hw.BankAAddr))
	}
	if addr := BankAddr(BankB); addr != hw.BankBAddr {
		t.Errorf("BankAddr(B) = 0x%X, want 0x%X", addr, uint32(hw.BankBAddr))
	}
}

func TestBootData_BankAccessors(t *testing.T) {
	var d BootData
	d.SetBankInfo(BankA, 1, 2, 3)
	d.SetBankInfo(BankB, 4, 5, 6)

	if v := d.BankVersion(BankA); v != 1 {
		t.Errorf("BankVersion(A) = %d, want 1", v)
	}
	if c := d.BankCRC(BankA); c != 2 {
		t.Errorf("BankCRC(A) = %d, want 2", c)
	}
	if s := d.BankSize(BankA); s != 3 {
		t.Errorf("BankSize(A) = %d, want 3", s)
	}
	if v := d.BankVersion(BankB); v != 4 {
		t.Errorf("BankVersion(B) = %d, want 4", v)
	}
	if c := d.BankCRC(BankB); c != 5 {
		t.Errorf("BankCRC(B) = %d, want 5", c)
	}
	if s := d.BankSize(BankB); s != 6 {
		t.Errorf("BankSize(B) = %d, want 6", s)
	}
}

func TestStore_ErasesSectorThenProgramsOnePage(t *testing.T) {
	sim := hw.NewSim()

	d := Default()
	d.Confirmed = 1
	if err := Store(sim, d); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	off := hw.FlashOffset(hw.BootDataAddr)
	ops := sim.Journal()
	if len(ops) != 2 {
		t.Fatalf("journal has %d ops, want 2", len(ops))
	}
	if ops[0].Kind != hw.OpErase || ops[0].Addr != off || ops[0].Size != hw.FlashSectorSize {
		t.Errorf("op 0 = %+v, want sector erase at 0x%X", ops[0], off)
	}
	if ops[1].Kind != hw.OpProgram || ops[1].Addr != off || ops[1].Size != hw.FlashPageSize {
		t.Errorf("op 1 = %+v, want page program at 0x%X", ops[1], off)
	}

	page := sim.FlashBytes(off, hw.FlashPageSize)
	want, _ := d.MarshalBinary()
	if !bytes.Equal(page[:Size], want) {
		t.Errorf("stored record = % X, want % X", page[:Size], want)
	}
	for i := Size; i < hw.FlashPageSize; i++ {
		if page[i] != 0xFF {
			t.Fatalf("page byte %d = 0x%02X, want 0xFF padding", i, page[i])
		}
	}
}

func TestStore_ReadBack(t *testing.T) {
	sim := hw.NewSim()

	d := Default()
	d.ActiveBank = BankB
	d.SetBankInfo(BankB, 0x00020005, 0xCAFEF00D, 1024)
	if err := Store(sim, d); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := Read(sim)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != d {
		t.Errorf("read back %+v, want %+v", got, d)
	}
}

func TestStore_PropagatesFlashFaults(t *testing.T) {
	sim := hw.NewSim()
	injected := errors.New("flash fault")

	sim.EraseFault = injected
	if err := Store(sim, Default()); !errors.Is(err, injected) {
		t.Errorf("erase fault: got %v, want injected error", err)
	}

	sim.ProgramFault = injected
	if err := Store(sim, Default()); !errors.Is(err, injected) {
		t.Errorf("program fault: got %v, want injected error", err)
	}
}

func TestRead_UninitializedFlash(t *testing.T) {
	sim := hw.NewSim()

	d, err := Read(sim)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if d.IsValid() {
		t.Error("record from erased flash reported valid")
	}
}
