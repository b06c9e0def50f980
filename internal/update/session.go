// Package update implements the device-side update mode: a command
// handler the bootloader runs over the USB serial transport.
package update

import (
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ADNTIO/crispy-go/internal/boot"
	"github.com/ADNTIO/crispy-go/internal/bootdata"
	"github.com/ADNTIO/crispy-go/internal/cobs"
	"github.com/ADNTIO/crispy-go/internal/hw"
	"github.com/ADNTIO/crispy-go/internal/protocol"
)

type state int

const (
	stateReady state = iota
	stateReceiving
)

// Session handles update-mode commands from a host. The transport is an
// io.ReadWriter; the real device passes its CDC port, tests pass a pipe.
// A session is single-threaded: Serve reads, dispatches, and responds in
// order, matching the device's run-to-completion model.
type Session struct {
	rw      io.ReadWriter
	dev     hw.Device
	log     logrus.FieldLogger
	boot    *boot.Service
	version uint32

	state      state
	bank       uint8
	size       uint32
	crc        uint32
	imgVersion uint32
	staging    []byte

	rxBuf []byte
}

// Option configures a Session.
type Option func(*Session)

// WithLogger replaces the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithVersion sets the bootloader version reported in Status responses.
func WithVersion(packed uint32) Option {
	return func(s *Session) { s.version = packed }
}

// NewSession returns an update session serving rw against dev.
func NewSession(rw io.ReadWriter, dev hw.Device, opts ...Option) *Session {
	s := &Session{
		rw:    rw,
		dev:   dev,
		log:   logrus.StandardLogger(),
		state: stateReady,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.boot = boot.New(dev, boot.WithLogger(s.log))
	return s
}

// Serve reads frames and handles commands until the transport reports
// EOF (clean shutdown) or an error. A Reboot command ends the execution
// context instead of returning.
func (s *Session) Serve() error {
	buf := make([]byte, 2048)
	for {
		n, err := s.rw.Read(buf)
		if n > 0 {
			s.rxBuf = append(s.rxBuf, buf[:n]...)
			if err := s.drainFrames(); err != nil {
				return err
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "transport read")
		}
	}
}

func (s *Session) drainFrames() error {
	for {
		frame, rest := cobs.ReadFrame(s.rxBuf)
		if frame == nil {
			if len(rest) == 0 {
				s.rxBuf = s.rxBuf[:0]
			}
			return nil
		}
		if err := s.handleFrame(frame); err != nil {
			return err
		}
		s.rxBuf = append(s.rxBuf[:0], rest...)
	}
}

func (s *Session) handleFrame(frame []byte) error {
	msg, err := cobs.Decode(frame)
	if err != nil || len(msg) == 0 {
		s.log.WithError(err).Warn("Dropping malformed frame")
		return s.sendAck(protocol.AckBadCommand)
	}

	s.log.Debugf("command 0x%02X (%d bytes)", msg[0], len(msg))
	switch msg[0] {
	case protocol.CmdGetStatus:
		return s.handleGetStatus()
	case protocol.CmdStartUpdate:
		return s.handleStartUpdate(msg)
	case protocol.CmdDataBlock:
		return s.handleDataBlock(msg)
	case protocol.CmdFinishUpdate:
		return s.handleFinishUpdate()
	case protocol.CmdReboot:
		return s.handleReboot()
	case protocol.CmdSetActiveBank:
		return s.handleSetActiveBank(msg)
	case protocol.CmdWipeAll:
		return s.handleWipeAll()
	default:
		s.log.Warnf("Unknown command 0x%02X", msg[0])
		return s.sendAck(protocol.AckBadCommand)
	}
}

// handleGetStatus answers in every state; an unreadable or invalid
// record reports factory defaults.
func (s *Session) handleGetStatus() error {
	d, err := bootdata.Read(s.dev.Flash)
	if err != nil || !d.IsValid() {
		d = bootdata.Default()
	}

	st := byte(protocol.StateUpdateMode)
	if s.state == stateReceiving {
		st = protocol.StateReceiving
	}
	resp := &protocol.Status{
		ActiveBank:        d.ActiveBank,
		State:             st,
		VersionA:          d.VersionA,
		VersionB:          d.VersionB,
		BootloaderVersion: s.version,
	}
	return s.send(resp.Encode())
}

func (s *Session) handleStartUpdate(msg []byte) error {
	if s.state != stateReady {
		return s.sendAck(protocol.AckBadState)
	}
	m, err := protocol.ParseStartUpdate(msg)
	if err != nil {
		s.log.WithError(err).Warn("Bad start-update command")
		return s.sendAck(protocol.AckBadCommand)
	}
	if m.Bank > bootdata.BankB {
		return s.sendAck(protocol.AckBankInvalid)
	}
	if m.Size == 0 || m.Size > hw.StagingSize || m.Size > hw.BankSize {
		return s.sendAck(protocol.AckBankInvalid)
	}

	s.bank = m.Bank
	s.size = m.Size
	s.crc = m.CRC
	s.imgVersion = m.Version
	s.staging = make([]byte, 0, m.Size)
	s.state = stateReceiving

	s.log.Infof("Starting update: bank=%d size=%d version=%s",
		m.Bank, m.Size, protocol.FormatSemver(m.Version))
	return s.sendAck(protocol.AckOK)
}

func (s *Session) handleDataBlock(msg []byte) error {
	if s.state != stateReceiving {
		return s.sendAck(protocol.AckBadState)
	}
	m, err := protocol.ParseDataBlock(msg)
	if err != nil {
		s.log.WithError(err).Warn("Bad data block")
		return s.sendAck(protocol.AckBadCommand)
	}
	if m.Offset != uint32(len(s.staging)) {
		s.log.Warnf("Out-of-sequence block: offset=%d, have %d bytes", m.Offset, len(s.staging))
		return s.sendAck(protocol.AckBadCommand)
	}
	if uint32(len(s.staging))+uint32(len(m.Data)) > s.size {
		s.log.Warnf("Block overruns announced size %d", s.size)
		return s.sendAck(protocol.AckBadCommand)
	}

	s.staging = append(s.staging, m.Data...)
	return s.sendAck(protocol.AckOK)
}

func (s *Session) handleFinishUpdate() error {
	if s.state != stateReceiving {
		return s.sendAck(protocol.AckBadState)
	}
	if uint32(len(s.staging)) != s.size {
		// Transfer can continue; the host may still send missing blocks.
		s.log.Warnf("Finish with %d of %d bytes", len(s.staging), s.size)
		return s.sendAck(protocol.AckBadCommand)
	}
	if crc32.ChecksumIEEE(s.staging) != s.crc {
		s.log.Warn("Staged image CRC mismatch")
		s.resetTransfer()
		return s.sendAck(protocol.AckCrcError)
	}

	if err := s.persist(); err != nil {
		s.log.WithError(err).Error("Persisting image failed")
		s.resetTransfer()
		return s.sendAck(protocol.AckCrcError)
	}

	s.log.Infof("Update complete: bank=%d version=%s",
		s.bank, protocol.FormatSemver(s.imgVersion))
	s.resetTransfer()
	return s.sendAck(protocol.AckOK)
}

// persist writes the staged image to its bank and records it in boot
// data. The record is only touched after the flash contents verify, so a
// partial write never becomes bootable.
func (s *Session) persist() error {
	bankOff := hw.FlashOffset(bootdata.BankAddr(s.bank))

	eraseSize := (s.size + hw.FlashSectorSize - 1) / hw.FlashSectorSize * hw.FlashSectorSize
	if err := s.dev.Flash.EraseSectors(bankOff, eraseSize); err != nil {
		return errors.Wrap(err, "erase bank")
	}

	for off := uint32(0); off < s.size; off += hw.FlashSectorSize {
		end := off + hw.FlashSectorSize
		if end > s.size {
			end = s.size
		}
		chunk := s.staging[off:end]
		if rem := len(chunk) % hw.FlashPageSize; rem != 0 {
			padded := make([]byte, len(chunk)+hw.FlashPageSize-rem)
			copy(padded, chunk)
			for i := len(chunk); i < len(padded); i++ {
				padded[i] = 0xFF
			}
			chunk = padded
		}
		if err := s.dev.Flash.Program(bankOff+off, chunk); err != nil {
			return errors.Wrap(err, "program bank")
		}
	}

	readBack := make([]byte, s.size)
	if err := s.dev.Flash.Read(bankOff, readBack); err != nil {
		return errors.Wrap(err, "verify read")
	}
	if crc32.ChecksumIEEE(readBack) != s.crc {
		return errors.New("flash verification failed")
	}

	d, err := bootdata.Read(s.dev.Flash)
	if err != nil {
		return errors.Wrap(err, "read boot data")
	}
	if !d.IsValid() {
		d = bootdata.Default()
	}
	d.ActiveBank = s.bank
	d.Confirmed = 0
	d.BootAttempts = 0
	d.SetBankInfo(s.bank, s.imgVersion, s.crc, s.size)
	return bootdata.Store(s.dev.Flash, d)
}

func (s *Session) handleSetActiveBank(msg []byte) error {
	if s.state != stateReady {
		return s.sendAck(protocol.AckBadState)
	}
	m, err := protocol.ParseSetActiveBank(msg)
	if err != nil {
		s.log.WithError(err).Warn("Bad set-active-bank command")
		return s.sendAck(protocol.AckBadCommand)
	}
	if m.Bank > bootdata.BankB {
		return s.sendAck(protocol.AckBankInvalid)
	}

	d, err := bootdata.Read(s.dev.Flash)
	if err != nil {
		s.log.WithError(err).Error("Reading boot data failed")
		return s.sendAck(protocol.AckCrcError)
	}
	if !d.IsValid() {
		d = bootdata.Default()
	}
	if d.BankSize(m.Bank) == 0 {
		return s.sendAck(protocol.AckBankInvalid)
	}

	img := make([]byte, d.BankSize(m.Bank))
	if err := s.dev.Flash.Read(hw.FlashOffset(bootdata.BankAddr(m.Bank)), img); err != nil {
		s.log.WithError(err).Error("Reading bank image failed")
		return s.sendAck(protocol.AckCrcError)
	}
	if crc32.ChecksumIEEE(img) != d.BankCRC(m.Bank) {
		s.log.Warnf("Bank %d flash CRC mismatch", m.Bank)
		return s.sendAck(protocol.AckCrcError)
	}

	d.ActiveBank = m.Bank
	d.Confirmed = 0
	d.BootAttempts = 0
	if err := bootdata.Store(s.dev.Flash, d); err != nil {
		s.log.WithError(err).Error("Storing boot data failed")
		return s.sendAck(protocol.AckCrcError)
	}

	s.log.Infof("Active bank set to %d", m.Bank)
	return s.sendAck(protocol.AckOK)
}

func (s *Session) handleWipeAll() error {
	if s.state != stateReady {
		return s.sendAck(protocol.AckBadState)
	}
	if err := bootdata.Store(s.dev.Flash, bootdata.Default()); err != nil {
		s.log.WithError(err).Error("Wiping boot data failed")
		return s.sendAck(protocol.AckCrcError)
	}
	s.log.Info("Boot data wiped")
	return s.sendAck(protocol.AckOK)
}

// handleReboot acks first so the host sees the response before the
// device disappears from the bus. Does not return.
func (s *Session) handleReboot() error {
	if err := s.sendAck(protocol.AckOK); err != nil {
		return err
	}
	s.boot.Reboot()
	return nil
}

func (s *Session) resetTransfer() {
	s.state = stateReady
	s.bank = 0
	s.size = 0
	s.crc = 0
	s.imgVersion = 0
	s.staging = nil
}

func (s *Session) sendAck(status byte) error {
	a := &protocol.Ack{Status: status}
	return s.send(a.Encode())
}

func (s *Session) send(msg []byte) error {
	if _, err := s.rw.Write(cobs.Encode(msg)); err != nil {
		return errors.Wrap(err, "transport write")
	}
	return nil
}
