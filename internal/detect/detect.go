// Package detect finds crispy devices by their USB vendor and product
// IDs, without opening any port.
package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"

	"github.com/ADNTIO/crispy-go/internal/protocol"
)

// pollInterval is how often Find rescans the bus while waiting for a
// device to enumerate.
const pollInterval = 500 * time.Millisecond

// Result describes a detected crispy device.
type Result struct {
	Port         string
	Bootloader   bool
	SerialNumber string
}

// ProductName returns the product string for the mode the device is in.
func (r Result) ProductName() string {
	if r.Bootloader {
		return protocol.BootloaderProduct
	}
	return protocol.FirmwareProduct
}

// List scans the USB bus and returns all connected crispy devices.
// Devices in bootloader mode and firmware mode enumerate with different
// product IDs, so the mode is known before any port is opened.
func List() ([]Result, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate ports")
	}

	var results []Result
	for _, port := range ports {
		if !port.IsUSB || !idMatches(port.VID, protocol.USBVendorID) {
			continue
		}
		switch {
		case idMatches(port.PID, protocol.USBPIDBootloader):
			results = append(results, Result{
				Port:         port.Name,
				Bootloader:   true,
				SerialNumber: port.SerialNumber,
			})
		case idMatches(port.PID, protocol.USBPIDFirmware):
			results = append(results, Result{
				Port:         port.Name,
				SerialNumber: port.SerialNumber,
			})
		}
	}

	return results, nil
}

// FindBootloader waits for a device in bootloader mode to appear,
// rescanning until the timeout expires. A device that was just asked to
// reboot takes a moment to drop off the bus and re-enumerate.
func FindBootloader(timeout time.Duration) (*Result, error) {
	return waitFor(true, timeout)
}

// FindFirmware waits for a device running application firmware to appear.
func FindFirmware(timeout time.Duration) (*Result, error) {
	return waitFor(false, timeout)
}

func waitFor(bootloader bool, timeout time.Duration) (*Result, error) {
	deadline := time.Now().Add(timeout)
	for {
		results, err := List()
		if err != nil {
			return nil, err
		}
		for i := range results {
			if results[i].Bootloader == bootloader {
				return &results[i], nil
			}
		}
		if time.Now().After(deadline) {
			if bootloader {
				return nil, errors.New("no crispy device in bootloader mode found")
			}
			return nil, errors.New("no crispy device running firmware found")
		}
		time.Sleep(pollInterval)
	}
}

// idMatches compares an enumerator ID string against a numeric ID. The
// enumerator reports VID and PID as hex strings whose case varies by
// platform.
func idMatches(s string, id uint16) bool {
	return strings.EqualFold(s, fmt.Sprintf("%04X", id))
}
