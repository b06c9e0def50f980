package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ADNTIO/crispy-go/internal/detect"
	"github.com/ADNTIO/crispy-go/internal/protocol"
	"github.com/ADNTIO/crispy-go/internal/serial"
	"github.com/ADNTIO/crispy-go/internal/uf2"
	"github.com/ADNTIO/crispy-go/internal/uploader"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	verboseFlag bool
	bankFlag    uint8
	versionFlag string
	baseFlag    string
	familyFlag  string
)

// detectTimeout bounds the wait for a bootloader to enumerate when no
// port is given.
const detectTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "crispy-upload",
		Short: "Firmware upload tool for crispy devices",
		Long: `crispy-upload talks to the crispy bootloader over USB serial to
upload firmware images into the A/B banks, switch the active bank,
and convert raw binaries to UF2 for first-time installation.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().IntVar(&baudFlag, "baud", protocol.DefaultBaudRate, "Baud rate")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show bootloader status",
		RunE:  runStatus,
	}

	uploadCmd := &cobra.Command{
		Use:   "upload <firmware.bin>",
		Short: "Upload firmware to a bank",
		Long: `Upload a firmware image into one of the two banks.

The device stages the image in RAM, verifies its CRC, programs the
bank, and records the new image as unconfirmed. The uploaded firmware
becomes active on the next reboot and must confirm itself to survive
the one after that.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}
	uploadCmd.Flags().Uint8Var(&bankFlag, "bank", 0, "Target bank (0 = A, 1 = B)")
	uploadCmd.Flags().StringVar(&versionFlag, "version", "1", "Firmware version (semver or plain number)")

	setBankCmd := &cobra.Command{
		Use:   "set-bank <bank>",
		Short: "Set the active bank for the next boot",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetBank,
	}

	wipeCmd := &cobra.Command{
		Use:   "wipe",
		Short: "Reset boot data, invalidating all firmware",
		RunE:  runWipe,
	}

	rebootCmd := &cobra.Command{
		Use:   "reboot",
		Short: "Reboot the device",
		RunE:  runReboot,
	}

	bin2uf2Cmd := &cobra.Command{
		Use:   "bin2uf2 <input.bin> <output.uf2>",
		Short: "Convert a raw binary to UF2 format",
		Long: `Convert a raw firmware binary to UF2 for drag-and-drop installation
through the RP2040 ROM bootloader. Used for the first install, before
the crispy bootloader is on the device.`,
		Args: cobra.ExactArgs(2),
		RunE: runBin2uf2,
	}
	bin2uf2Cmd.Flags().StringVarP(&baseFlag, "base-address", "a", "0x10000000", "Target base address in hex")
	bin2uf2Cmd.Flags().StringVarP(&familyFlag, "family-id", "f", "0xE48BFF56", "UF2 family ID in hex")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crispy-upload %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(statusCmd, uploadCmd, setBankCmd, wipeCmd, rebootCmd, bin2uf2Cmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDevice opens the requested port, or waits for a device in
// bootloader mode to enumerate when no port was given.
func openDevice() (*serial.Port, error) {
	portName := portFlag
	if portName == "" {
		fmt.Println("Detecting device...")
		result, err := detect.FindBootloader(detectTimeout)
		if err != nil {
			return nil, err
		}
		portName = result.Port
		fmt.Printf("Found %s on %s\n", result.ProductName(), result.Port)
	}

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)
	return port, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	port, err := openDevice()
	if err != nil {
		return err
	}
	defer port.Close()

	status, err := uploader.New(port).Status()
	if err != nil {
		return err
	}

	fmt.Println("Bootloader Status:")
	fmt.Printf("  Bootloader:  %s\n", protocol.FormatSemver(status.BootloaderVersion))
	fmt.Printf("  Active bank: %d (%s)\n", status.ActiveBank, bankLetter(status.ActiveBank))
	fmt.Printf("  Version A:   %s\n", protocol.FormatSemver(status.VersionA))
	fmt.Printf("  Version B:   %s\n", protocol.FormatSemver(status.VersionB))
	fmt.Printf("  State:       %s\n", protocol.StateName(status.State))
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return errors.Wrap(err, "failed to read firmware file")
	}
	if bankFlag > 1 {
		return errors.New("invalid bank: must be 0 (A) or 1 (B)")
	}
	fwVersion, err := parseVersion(versionFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, len(firmware))
	fmt.Printf("Target:   bank %d (%s), version %s\n", bankFlag, bankLetter(bankFlag), protocol.FormatSemver(fwVersion))

	port, err := openDevice()
	if err != nil {
		return err
	}
	defer port.Close()

	u := uploader.New(port)

	totalBlocks := len(firmware) / protocol.MaxDataBlockSize
	if len(firmware)%protocol.MaxDataBlockSize != 0 {
		totalBlocks++
	}

	bar := progressbar.NewOptions(totalBlocks,
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	u.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	fmt.Println("Starting update (erasing bank can take a while)...")
	if err := u.Upload(firmware, bankFlag, fwVersion); err != nil {
		return err
	}
	bar.Finish()

	fmt.Println("Firmware uploaded successfully!")
	fmt.Printf("Use 'crispy-upload --port %s reboot' to restart the device.\n", port.PortName())
	return nil
}

func runSetBank(cmd *cobra.Command, args []string) error {
	bank, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil || bank > 1 {
		return errors.Errorf("invalid bank %q: must be 0 (A) or 1 (B)", args[0])
	}

	port, err := openDevice()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("Setting active bank to %d (%s)...\n", bank, bankLetter(uint8(bank)))
	if err := uploader.New(port).SetBank(uint8(bank)); err != nil {
		return err
	}

	fmt.Println("Active bank set successfully.")
	fmt.Printf("Use 'crispy-upload --port %s reboot' to restart the device.\n", port.PortName())
	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	port, err := openDevice()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Println("Resetting boot data (invalidates all firmware)...")
	if err := uploader.New(port).Wipe(); err != nil {
		return err
	}

	fmt.Println("Boot data reset. Device is ready for firmware upload.")
	return nil
}

func runReboot(cmd *cobra.Command, args []string) error {
	port, err := openDevice()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Println("Rebooting device...")
	if err := uploader.New(port).Reboot(); err != nil {
		return err
	}

	fmt.Println("OK")
	return nil
}

func runBin2uf2(cmd *cobra.Command, args []string) error {
	baseAddr, err := parseHex(baseFlag)
	if err != nil {
		return err
	}
	familyID, err := parseHex(familyFlag)
	if err != nil {
		return err
	}

	if err := uf2.ConvertFile(args[0], args[1], baseAddr, familyID); err != nil {
		return err
	}

	info, err := os.Stat(args[1])
	if err != nil {
		return err
	}
	fmt.Printf("UF2: %s (%d blocks, %d bytes)\n", args[1], info.Size()/uf2.BlockSize, info.Size())
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	devices, err := detect.List()
	if err != nil {
		return err
	}
	byPort := make(map[string]detect.Result, len(devices))
	for _, d := range devices {
		byPort[d.Port] = d
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		if d, ok := byPort[p]; ok {
			fmt.Printf("  %s  [%s]\n", p, d.ProductName())
		} else {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

func bankLetter(bank uint8) string {
	if bank == 0 {
		return "A"
	}
	return "B"
}

// parseVersion accepts either a dotted semver string or a plain
// integer already in packed form.
func parseVersion(s string) (uint32, error) {
	if strings.Contains(s, ".") {
		return protocol.ParseSemver(s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid version %q", s)
	}
	return uint32(v), nil
}

// parseHex parses a 32-bit hex value with or without a 0x prefix.
func parseHex(s string) (uint32, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return 0, errors.Errorf("invalid hex value %q", s)
	}
	return uint32(v), nil
}
