package hw

// Flash geometry
const (
	FlashBase       = 0x10000000
	FlashSize       = 0x200000 // 2MB
	FlashPageSize   = 256      // smallest programmable unit
	FlashSectorSize = 4096     // smallest erasable unit
)

// Flash layout: two firmware banks followed by the boot data sector.
const (
	BankAAddr    = 0x10010000
	BankBAddr    = 0x100D0000
	BankSize     = 0xC0000 // 768KB per bank
	BootDataAddr = 0x10190000
)

// RAM layout
const (
	RAMBase     = 0x20000000
	RAMSize     = 0x40000
	StagingSize = 0x30000 // firmware staging/execution region
)

// Update handshake: the bootloader checks this exact address for this
// exact value on a warm boot before jumping to the application.
const (
	UpdateFlagAddr = 0x2003BFF0
	UpdateMagic    = 0x0FDA7E00
)

// ARM SCB reset control
const (
	AIRCR       = 0xE000ED0C
	VectKey     = 0x05FA0000
	SysResetReq = 1 << 2
)

// FlashOffset converts an absolute XIP address to a flash-relative offset.
func FlashOffset(addr uint32) uint32 {
	return addr - FlashBase
}
