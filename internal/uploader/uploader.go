// Package uploader drives the device-side update protocol from the
// host: status queries, firmware streaming, bank switching, wipe, and
// reboot.
package uploader

import (
	"hash/crc32"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ADNTIO/crispy-go/internal/cobs"
	"github.com/ADNTIO/crispy-go/internal/hw"
	"github.com/ADNTIO/crispy-go/internal/protocol"
)

const (
	// responseTimeout covers commands the device answers immediately.
	responseTimeout = 5 * time.Second

	// transferTimeout covers start and finish, where the device erases,
	// programs, and verifies a whole bank while the host waits.
	transferTimeout = 60 * time.Second
)

// ProgressCallback is called to report upload progress in blocks.
type ProgressCallback func(current, total int)

// Uploader speaks the update protocol over a byte stream. The real CLI
// passes a serial port; tests pass one end of a pipe.
type Uploader struct {
	rw       io.ReadWriter
	log      logrus.FieldLogger
	progress ProgressCallback
	rxBuf    []byte
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger replaces the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(u *Uploader) { u.log = log }
}

// New creates an Uploader for the given transport.
func New(rw io.ReadWriter, opts ...Option) *Uploader {
	u := &Uploader{
		rw:  rw,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// SetProgressCallback sets the progress callback function.
func (u *Uploader) SetProgressCallback(cb ProgressCallback) {
	u.progress = cb
}

// reportProgress calls the progress callback if set.
func (u *Uploader) reportProgress(current, total int) {
	if u.progress != nil {
		u.progress(current, total)
	}
}

// Status queries the device state and bank versions.
func (u *Uploader) Status() (*protocol.Status, error) {
	if err := u.writeFrame(protocol.BareCommand(protocol.CmdGetStatus)); err != nil {
		return nil, err
	}
	resp, err := u.readResponse(responseTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeStatus(resp)
}

// Upload streams a firmware image into the given bank and finalizes the
// update. On success the device has verified the image against its CRC
// and made the bank active but unconfirmed.
func (u *Uploader) Upload(firmware []byte, bank uint8, version uint32) error {
	if len(firmware) == 0 {
		return errors.New("empty firmware image")
	}
	if uint32(len(firmware)) > hw.StagingSize {
		return errors.Errorf("firmware too large: %d bytes, max %d", len(firmware), uint32(hw.StagingSize))
	}

	crc := crc32.ChecksumIEEE(firmware)
	u.log.Debugf("Uploading %d bytes to bank %d (crc=0x%08X, version=%s)",
		len(firmware), bank, crc, protocol.FormatSemver(version))

	start := &protocol.StartUpdate{
		Bank:    bank,
		Size:    uint32(len(firmware)),
		CRC:     crc,
		Version: version,
	}
	ack, err := u.command(start.Encode(), transferTimeout)
	if err != nil {
		return errors.Wrap(err, "start update")
	}
	if !ack.IsOK() {
		return errors.Errorf("start update rejected: %s", ack.ErrorString())
	}

	total := (len(firmware) + protocol.MaxDataBlockSize - 1) / protocol.MaxDataBlockSize
	sent := 0
	for off := 0; off < len(firmware); off += protocol.MaxDataBlockSize {
		end := off + protocol.MaxDataBlockSize
		if end > len(firmware) {
			end = len(firmware)
		}

		block := &protocol.DataBlock{Offset: uint32(off), Data: firmware[off:end]}
		ack, err := u.command(block.Encode(), responseTimeout)
		if err != nil {
			return errors.Wrapf(err, "data block at offset %d", off)
		}
		if !ack.IsOK() {
			return errors.Errorf("data block at offset %d rejected: %s", off, ack.ErrorString())
		}

		sent++
		u.reportProgress(sent, total)
	}

	ack, err = u.command(protocol.BareCommand(protocol.CmdFinishUpdate), transferTimeout)
	if err != nil {
		return errors.Wrap(err, "finish update")
	}
	if !ack.IsOK() {
		return errors.Errorf("finish update rejected: %s", ack.ErrorString())
	}

	u.log.Infof("Upload complete: %d bytes to bank %d", len(firmware), bank)
	return nil
}

// SetBank makes the given bank active without uploading anything. The
// device verifies the stored image before switching.
func (u *Uploader) SetBank(bank uint8) error {
	m := &protocol.SetActiveBank{Bank: bank}
	ack, err := u.command(m.Encode(), responseTimeout)
	if err != nil {
		return errors.Wrap(err, "set active bank")
	}
	if !ack.IsOK() {
		return errors.Errorf("set active bank rejected: %s", ack.ErrorString())
	}
	return nil
}

// Wipe resets the device's boot data to factory defaults.
func (u *Uploader) Wipe() error {
	ack, err := u.command(protocol.BareCommand(protocol.CmdWipeAll), responseTimeout)
	if err != nil {
		return errors.Wrap(err, "wipe")
	}
	if !ack.IsOK() {
		return errors.Errorf("wipe rejected: %s", ack.ErrorString())
	}
	return nil
}

// Reboot asks the device to reset. The device acks before resetting, so
// a successful return means the reboot is underway and the link is about
// to drop.
func (u *Uploader) Reboot() error {
	ack, err := u.command(protocol.BareCommand(protocol.CmdReboot), responseTimeout)
	if err != nil {
		return errors.Wrap(err, "reboot")
	}
	if !ack.IsOK() {
		return errors.Errorf("reboot rejected: %s", ack.ErrorString())
	}
	return nil
}

// command sends one framed command and waits for its ack.
func (u *Uploader) command(msg []byte, timeout time.Duration) (*protocol.Ack, error) {
	if err := u.writeFrame(msg); err != nil {
		return nil, err
	}
	resp, err := u.readResponse(timeout)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeAck(resp)
}

func (u *Uploader) writeFrame(msg []byte) error {
	frame := cobs.Encode(msg)
	u.log.Debugf("tx: %x", frame)
	if _, err := u.rw.Write(frame); err != nil {
		return errors.Wrap(err, "transport write")
	}
	return nil
}

// readResponse accumulates transport bytes until a complete frame
// arrives or the deadline passes.
func (u *Uploader) readResponse(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, remaining := cobs.ReadFrame(u.rxBuf)
		if frame != nil {
			msg, err := cobs.Decode(frame)
			u.rxBuf = append(u.rxBuf[:0], remaining...)
			if err != nil {
				return nil, errors.Wrap(err, "malformed response frame")
			}
			return msg, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.New("timeout waiting for response")
		}

		chunk := make([]byte, 256)
		n, err := u.read(chunk, 100*time.Millisecond)
		if n > 0 {
			u.log.Debugf("rx: %x", chunk[:n])
			u.rxBuf = append(u.rxBuf, chunk[:n]...)
		}
		if err != nil && n == 0 {
			return nil, errors.Wrap(err, "transport read")
		}
	}
}

// read pulls up to len(buf) bytes with a short timeout so the deadline
// loop stays responsive. Transports without timeout support block until
// data arrives.
func (u *Uploader) read(buf []byte, timeout time.Duration) (int, error) {
	switch c := u.rw.(type) {
	case interface {
		ReadWithTimeout([]byte, time.Duration) (int, error)
	}:
		return c.ReadWithTimeout(buf, timeout)
	case net.Conn:
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
		n, err := c.Read(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return n, nil
			}
		}
		return n, err
	default:
		return u.rw.Read(buf)
	}
}
