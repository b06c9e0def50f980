// Package bootdata reads and writes the boot data record that the
// bootloader and firmware share through the last flash sector.
package bootdata

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ADNTIO/crispy-go/internal/hw"
)

const (
	// Magic marks an initialized record. Anything else in the magic
	// field, including erased flash, means the record is not valid.
	Magic = 0xB007DA7A

	// Size is the serialized record size in bytes.
	Size = 32
)

// Firmware bank identifiers.
const (
	BankA uint8 = 0
	BankB uint8 = 1
)

// BootData is the persistent boot state record. It selects the active
// firmware bank and carries the metadata the bootloader needs to verify
// and fall back between bank images.
type BootData struct {
	Magic        uint32
	ActiveBank   uint8
	Confirmed    uint8
	BootAttempts uint16
	VersionA     uint32
	VersionB     uint32
	CRCA         uint32
	CRCB         uint32
	SizeA        uint32
	SizeB        uint32
}

// Default returns the record for a factory-fresh device: bank A active,
// nothing confirmed, no image metadata.
func Default() BootData {
	return BootData{Magic: Magic, ActiveBank: BankA}
}

// IsValid reports whether the record was initialized by this protocol.
func (d BootData) IsValid() bool {
	return d.Magic == Magic && d.ActiveBank <= BankB
}

// IsConfirmed reports whether the active image already confirmed a boot.
func (d BootData) IsConfirmed() bool {
	return d.Confirmed != 0
}

// BankAddr returns the flash address of the given bank's image region.
func BankAddr(bank uint8) uint32 {
	if bank == BankB {
		return hw.BankBAddr
	}
	return hw.BankAAddr
}

// BankVersion returns the packed firmware version recorded for bank.
func (d BootData) BankVersion(bank uint8) uint32 {
	if bank == BankB {
		return d.VersionB
	}
	return d.VersionA
}

// BankCRC returns the image CRC recorded for bank.
func (d BootData) BankCRC(bank uint8) uint32 {
	if bank == BankB {
		return d.CRCB
	}
	return d.CRCA
}

// BankSize returns the image size recorded for bank.
func (d BootData) BankSize(bank uint8) uint32 {
	if bank == BankB {
		return d.SizeB
	}
	return d.SizeA
}

// SetBankInfo records the metadata of a freshly written bank image.
func (d *BootData) SetBankInfo(bank uint8, version, crc, size uint32) {
	if bank == BankB {
		d.VersionB = version
		d.CRCB = crc
		d.SizeB = size
		return
	}
	d.VersionA = version
	d.CRCA = crc
	d.SizeA = size
}

// MarshalBinary serializes the record in the 32-byte little-endian
// flash layout.
func (d BootData) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], d.Magic)
	buf[4] = d.ActiveBank
	buf[5] = d.Confirmed
	binary.LittleEndian.PutUint16(buf[6:8], d.BootAttempts)
	binary.LittleEndian.PutUint32(buf[8:12], d.VersionA)
	binary.LittleEndian.PutUint32(buf[12:16], d.VersionB)
	binary.LittleEndian.PutUint32(buf[16:20], d.CRCA)
	binary.LittleEndian.PutUint32(buf[20:24], d.CRCB)
	binary.LittleEndian.PutUint32(buf[24:28], d.SizeA)
	binary.LittleEndian.PutUint32(buf[28:32], d.SizeB)
	return buf, nil
}

// UnmarshalBinary parses a serialized record. It validates only the
// length; semantic validity is IsValid's job, so callers can inspect
// records read from erased or corrupted flash.
func (d *BootData) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return errors.Errorf("boot data record too short: %d bytes, need %d", len(data), Size)
	}
	d.Magic = binary.LittleEndian.Uint32(data[0:4])
	d.ActiveBank = data[4]
	d.Confirmed = data[5]
	d.BootAttempts = binary.LittleEndian.Uint16(data[6:8])
	d.VersionA = binary.LittleEndian.Uint32(data[8:12])
	d.VersionB = binary.LittleEndian.Uint32(data[12:16])
	d.CRCA = binary.LittleEndian.Uint32(data[16:20])
	d.CRCB = binary.LittleEndian.Uint32(data[20:24])
	d.SizeA = binary.LittleEndian.Uint32(data[24:28])
	d.SizeB = binary.LittleEndian.Uint32(data[28:32])
	return nil
}

// Read loads the record from its flash sector. The record may be
// invalid; check IsValid before trusting it.
func Read(f hw.Flash) (BootData, error) {
	buf := make([]byte, Size)
	if err := f.Read(hw.FlashOffset(hw.BootDataAddr), buf); err != nil {
		return BootData{}, errors.Wrap(err, "read boot data")
	}
	var d BootData
	if err := d.UnmarshalBinary(buf); err != nil {
		return BootData{}, err
	}
	return d, nil
}

// Store persists the record: erase the boot data sector, then program a
// single page holding the record with the remainder left erased. The
// erase step means a power cut mid-store leaves an invalid record, which
// the bootloader treats as factory defaults.
func Store(f hw.Flash, d BootData) error {
	rec, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	page := make([]byte, hw.FlashPageSize)
	for i := range page {
		page[i] = 0xFF
	}
	copy(page, rec)

	off := hw.FlashOffset(hw.BootDataAddr)
	if err := f.EraseSectors(off, hw.FlashSectorSize); err != nil {
		return errors.Wrap(err, "erase boot data sector")
	}
	if err := f.Program(off, page); err != nil {
		return errors.Wrap(err, "program boot data")
	}
	return nil
}
