package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Wire layout: every message is a single COBS frame whose first byte is
// the command or response ID, followed by a fixed little-endian payload.

// BareCommand encodes a command that carries no payload.
func BareCommand(id byte) []byte {
	return []byte{id}
}

// StartUpdate announces an incoming firmware image for a bank.
type StartUpdate struct {
	Bank    uint8
	Size    uint32
	CRC     uint32
	Version uint32
}

// Encode serializes the command to bytes (before COBS encoding).
func (m *StartUpdate) Encode() []byte {
	// 0: command ID
	// 1: target bank
	// 2-5: image size (little-endian)
	// 6-9: image CRC-32
	// 10-13: packed version
	msg := make([]byte, 14)
	msg[0] = CmdStartUpdate
	msg[1] = m.Bank
	binary.LittleEndian.PutUint32(msg[2:6], m.Size)
	binary.LittleEndian.PutUint32(msg[6:10], m.CRC)
	binary.LittleEndian.PutUint32(msg[10:14], m.Version)
	return msg
}

// ParseStartUpdate parses a StartUpdate command message.
func ParseStartUpdate(msg []byte) (*StartUpdate, error) {
	if len(msg) != 14 {
		return nil, errors.Errorf("start-update length %d, want 14", len(msg))
	}
	if msg[0] != CmdStartUpdate {
		return nil, errors.Errorf("not a start-update command: 0x%02X", msg[0])
	}
	return &StartUpdate{
		Bank:    msg[1],
		Size:    binary.LittleEndian.Uint32(msg[2:6]),
		CRC:     binary.LittleEndian.Uint32(msg[6:10]),
		Version: binary.LittleEndian.Uint32(msg[10:14]),
	}, nil
}

// DataBlock carries one chunk of the image at a byte offset.
type DataBlock struct {
	Offset uint32
	Data   []byte
}

// Encode serializes the command to bytes (before COBS encoding).
func (m *DataBlock) Encode() []byte {
	// 0: command ID
	// 1-4: offset (little-endian)
	// 5-6: data length
	// 7+: data
	msg := make([]byte, 7+len(m.Data))
	msg[0] = CmdDataBlock
	binary.LittleEndian.PutUint32(msg[1:5], m.Offset)
	binary.LittleEndian.PutUint16(msg[5:7], uint16(len(m.Data)))
	copy(msg[7:], m.Data)
	return msg
}

// ParseDataBlock parses a DataBlock command message. The returned Data
// aliases msg.
func ParseDataBlock(msg []byte) (*DataBlock, error) {
	if len(msg) < 7 {
		return nil, errors.Errorf("data block too short: %d bytes", len(msg))
	}
	if msg[0] != CmdDataBlock {
		return nil, errors.Errorf("not a data block command: 0x%02X", msg[0])
	}
	length := binary.LittleEndian.Uint16(msg[5:7])
	if int(length) != len(msg)-7 {
		return nil, errors.Errorf("data block length mismatch: header %d, payload %d", length, len(msg)-7)
	}
	if length > MaxDataBlockSize {
		return nil, errors.Errorf("data block too large: %d bytes, max %d", length, MaxDataBlockSize)
	}
	return &DataBlock{
		Offset: binary.LittleEndian.Uint32(msg[1:5]),
		Data:   msg[7:],
	}, nil
}

// SetActiveBank switches which bank the bootloader launches.
type SetActiveBank struct {
	Bank uint8
}

// Encode serializes the command to bytes (before COBS encoding).
func (m *SetActiveBank) Encode() []byte {
	return []byte{CmdSetActiveBank, m.Bank}
}

// ParseSetActiveBank parses a SetActiveBank command message.
func ParseSetActiveBank(msg []byte) (*SetActiveBank, error) {
	if len(msg) != 2 {
		return nil, errors.Errorf("set-active-bank length %d, want 2", len(msg))
	}
	if msg[0] != CmdSetActiveBank {
		return nil, errors.Errorf("not a set-active-bank command: 0x%02X", msg[0])
	}
	return &SetActiveBank{Bank: msg[1]}, nil
}

// Ack is the device's response to every command except GetStatus.
type Ack struct {
	Status byte
}

// Encode serializes the response to bytes (before COBS encoding).
func (a *Ack) Encode() []byte {
	return []byte{RespAck, a.Status}
}

// DecodeAck parses an Ack response message.
func DecodeAck(msg []byte) (*Ack, error) {
	if len(msg) != 2 {
		return nil, errors.Errorf("ack length %d, want 2", len(msg))
	}
	if msg[0] != RespAck {
		return nil, errors.Errorf("not an ack response: 0x%02X", msg[0])
	}
	return &Ack{Status: msg[1]}, nil
}

// IsOK returns true if the ack indicates success.
func (a *Ack) IsOK() bool {
	return a.Status == AckOK
}

// ErrorString returns a human-readable error message.
func (a *Ack) ErrorString() string {
	if a.IsOK() {
		return ""
	}
	return fmt.Sprintf("status=0x%02X (%s)", a.Status, AckMessage(a.Status))
}

// Status is the device's answer to GetStatus.
type Status struct {
	ActiveBank        uint8
	State             byte
	VersionA          uint32
	VersionB          uint32
	BootloaderVersion uint32
}

// Encode serializes the response to bytes (before COBS encoding).
func (s *Status) Encode() []byte {
	// 0: response ID
	// 1: active bank
	// 2: device state
	// 3-6: bank A version (little-endian)
	// 7-10: bank B version
	// 11-14: bootloader version (0 = unknown)
	msg := make([]byte, 15)
	msg[0] = RespStatus
	msg[1] = s.ActiveBank
	msg[2] = s.State
	binary.LittleEndian.PutUint32(msg[3:7], s.VersionA)
	binary.LittleEndian.PutUint32(msg[7:11], s.VersionB)
	binary.LittleEndian.PutUint32(msg[11:15], s.BootloaderVersion)
	return msg
}

// DecodeStatus parses a Status response message.
func DecodeStatus(msg []byte) (*Status, error) {
	if len(msg) != 15 {
		return nil, errors.Errorf("status length %d, want 15", len(msg))
	}
	if msg[0] != RespStatus {
		return nil, errors.Errorf("not a status response: 0x%02X", msg[0])
	}
	return &Status{
		ActiveBank:        msg[1],
		State:             msg[2],
		VersionA:          binary.LittleEndian.Uint32(msg[3:7]),
		VersionB:          binary.LittleEndian.Uint32(msg[7:11]),
		BootloaderVersion: binary.LittleEndian.Uint32(msg[11:15]),
	}, nil
}
