package protocol

// Update-mode commands (host to device)
const (
	CmdGetStatus     = 0x01
	CmdStartUpdate   = 0x02
	CmdDataBlock     = 0x03
	CmdFinishUpdate  = 0x04
	CmdReboot        = 0x05
	CmdSetActiveBank = 0x06
	CmdWipeAll       = 0x07
)

// Responses (device to host)
const (
	RespAck    = 0x01
	RespStatus = 0x02
)

// Ack status codes
const (
	AckOK          = 0x00
	AckBadState    = 0x01
	AckBankInvalid = 0x02
	AckBadCommand  = 0x03
	AckCrcError    = 0x04
)

// Device states reported in Status responses
const (
	StateUpdateMode = 0x01
	StateReceiving  = 0x02
)

// MaxDataBlockSize bounds a DataBlock payload; the device buffers one
// encoded frame in 2KB of RAM.
const MaxDataBlockSize = 1024

// AckMessage returns a human-readable message for an ack status code.
func AckMessage(code byte) string {
	switch code {
	case AckOK:
		return "ok"
	case AckBadState:
		return "device is in the wrong state"
	case AckBankInvalid:
		return "invalid bank or image size"
	case AckBadCommand:
		return "malformed or out-of-sequence command"
	case AckCrcError:
		return "CRC verification failed"
	default:
		return "unknown status"
	}
}

// StateName returns a human-readable name for a device state code.
func StateName(code byte) string {
	switch code {
	case StateUpdateMode:
		return "update-mode"
	case StateReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}
