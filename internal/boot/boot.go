// Package boot implements boot confirmation and the reboot handshake the
// firmware runs against the hardware capabilities in hw.
package boot

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ADNTIO/crispy-go/internal/bootdata"
	"github.com/ADNTIO/crispy-go/internal/hw"
)

// Service exposes the boot-time operations of the firmware: confirming a
// successful boot and requesting the two reset flavors. It is designed
// for the device's single-threaded run loop and is not goroutine-safe.
type Service struct {
	dev    hw.Device
	log    logrus.FieldLogger
	settle time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger replaces the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithSettleDelay overrides the delay that lets console output drain
// before a reset.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Service) { s.settle = d }
}

// New returns a boot service driving the given device.
func New(dev hw.Device, opts ...Option) *Service {
	s := &Service{
		dev:    dev,
		log:    logrus.StandardLogger(),
		settle: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConfirmBoot marks the currently running image as known good. The
// bootloader stops counting failed boot attempts for a confirmed image,
// so the firmware calls this once its own startup checks have passed.
//
// The call is idempotent: an already-confirmed record is left untouched,
// and an invalid record (fresh or interrupted flash) is skipped rather
// than repaired, since the bootloader owns recovery. At most one
// erase+program pair reaches flash per call.
func (s *Service) ConfirmBoot() error {
	d, err := bootdata.Read(s.dev.Flash)
	if err != nil {
		return errors.Wrap(err, "confirm boot")
	}
	if !d.IsValid() {
		s.log.Warn("BootData invalid, skipping confirmation")
		return nil
	}
	if d.IsConfirmed() {
		s.log.Info("Boot already confirmed")
		return nil
	}

	s.log.Infof("Confirming boot (bank=%d)...", d.ActiveBank)
	d.Confirmed = 1
	d.BootAttempts = 0

	if err := s.withInterruptsMasked(func() error {
		return bootdata.Store(s.dev.Flash, d)
	}); err != nil {
		return errors.Wrap(err, "confirm boot")
	}

	s.log.Info("Boot confirmed successfully")
	return nil
}

// RebootToBootloader plants the update magic in RAM and resets, so the
// bootloader comes up in update mode instead of launching firmware. The
// flag lives in RAM only; a power cut cancels the request. Never returns.
func (s *Service) RebootToBootloader() {
	s.log.Info("Rebooting to bootloader update mode...")
	s.dev.Clock.Sleep(s.settle)
	s.dev.Mem.Write32(hw.UpdateFlagAddr, hw.UpdateMagic)
	s.dev.Sys.Barrier()
	s.dev.Clock.BusyWait(s.settle)
	s.sysReset()
}

// Reboot performs a plain warm reset without touching the update flag.
// Never returns.
func (s *Service) Reboot() {
	s.log.Info("Rebooting...")
	s.dev.Clock.Sleep(s.settle)
	s.sysReset()
}

// sysReset requests an ARM system reset through AIRCR. The barriers
// order the handshake stores before the reset request; Halt models the
// core never executing past this point.
func (s *Service) sysReset() {
	s.dev.Sys.Barrier()
	s.dev.Mem.Write32(hw.AIRCR, hw.VectKey|hw.SysResetReq)
	s.dev.Sys.Barrier()
	s.dev.Sys.Halt()
}

// withInterruptsMasked runs fn with interrupts disabled, restoring them
// on every exit path.
func (s *Service) withInterruptsMasked(fn func() error) error {
	st := s.dev.IRQ.Disable()
	defer st.Restore()
	return fn()
}
