package protocol

// USB identity of crispy devices
const (
	USBVendorID      = 0x2E8A
	USBPIDBootloader = 0x000A
	USBPIDFirmware   = 0x000B
)

// USB descriptor strings
const (
	ManufacturerName  = "ADNT"
	BootloaderProduct = "Crispy Bootloader"
	FirmwareProduct   = "Crispy Firmware"
)

// Default baud rate for the CDC serial link. The rate is nominal; USB
// CDC transfers at bus speed regardless.
const DefaultBaudRate = 115200
