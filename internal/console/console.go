// Package console implements the line-oriented command surface the
// sample firmware exposes on its USB serial port. Operators use it to
// inspect boot state and to hand the device over to the bootloader.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ADNTIO/crispy-go/internal/boot"
	"github.com/ADNTIO/crispy-go/internal/bootdata"
	"github.com/ADNTIO/crispy-go/internal/hw"
	"github.com/ADNTIO/crispy-go/internal/protocol"
)

// Console reads operator commands line by line and drives the boot
// service in response.
type Console struct {
	in      io.Reader
	out     io.Writer
	dev     hw.Device
	boot    *boot.Service
	log     logrus.FieldLogger
	version uint32
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger handed to the boot service.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Console) { c.log = log }
}

// WithVersion sets the packed firmware version shown in the banner.
func WithVersion(version uint32) Option {
	return func(c *Console) { c.version = version }
}

// New creates a console over the given streams.
func New(in io.Reader, out io.Writer, dev hw.Device, opts ...Option) *Console {
	c := &Console{
		in:  in,
		out: out,
		dev: dev,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.boot = boot.New(dev, boot.WithLogger(c.log))
	return c
}

// ConfirmBoot marks the running image as good. The embedding
// application calls this once at startup, before serving the console.
func (c *Console) ConfirmBoot() error {
	return c.boot.ConfirmBoot()
}

// Run prints the banner and serves commands until input ends. The
// bootload and reboot commands do not return; the reset primitive ends
// the goroutine instead.
func (c *Console) Run() error {
	fmt.Fprintln(c.out, "Crispy Firmware Sample (Go)")
	fmt.Fprintf(c.out, "Version: %s\n", protocol.FormatSemver(c.version))

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.handle(strings.TrimSpace(scanner.Text()))
	}
	return scanner.Err()
}

func (c *Console) handle(line string) {
	switch line {
	case "":
	case "status":
		c.printStatus()
	case "bootload":
		fmt.Fprintln(c.out, "Entering bootloader update mode")
		c.boot.RebootToBootloader()
	case "reboot":
		fmt.Fprintln(c.out, "Rebooting")
		c.boot.Reboot()
	case "help":
		c.printHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", line)
		c.printHelp()
	}
}

func (c *Console) printStatus() {
	d, err := bootdata.Read(c.dev.Flash)
	if err != nil || !d.IsValid() {
		d = bootdata.Default()
	}
	fmt.Fprintf(c.out, "Bank: %d\n", d.ActiveBank)
	if d.IsConfirmed() {
		fmt.Fprintln(c.out, "Confirmed: yes")
	} else {
		fmt.Fprintln(c.out, "Confirmed: no")
	}
	fmt.Fprintf(c.out, "Version: %s\n", protocol.FormatSemver(d.BankVersion(d.ActiveBank)))
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "Commands: status, bootload, reboot, help")
}
