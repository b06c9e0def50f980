// Package cobs implements consistent-overhead byte stuffing with 0x00 as
// the frame delimiter.
package cobs

import "github.com/pkg/errors"

// Delim terminates every encoded frame and never appears inside one.
const Delim = 0x00

// Decode errors.
var (
	ErrEmptyFrame = errors.New("empty frame")
	ErrTruncated  = errors.New("truncated group")
	ErrStrayDelim = errors.New("delimiter inside frame")
)

// Encode stuffs data so it contains no zero bytes and appends the frame
// delimiter. Each group starts with a code byte giving the distance to
// the next zero; runs of 254 or more non-zero bytes split into 0xFF
// groups.
func Encode(data []byte) []byte {
	// Worst case adds one code byte per 254 data bytes.
	result := make([]byte, 0, len(data)+2+len(data)/254)

	codeIdx := 0
	result = append(result, 0)
	code := byte(1)

	for _, b := range data {
		if b == 0 {
			result[codeIdx] = code
			codeIdx = len(result)
			result = append(result, 0)
			code = 1
			continue
		}
		result = append(result, b)
		code++
		if code == 0xFF {
			result[codeIdx] = code
			codeIdx = len(result)
			result = append(result, 0)
			code = 1
		}
	}

	result[codeIdx] = code
	result = append(result, Delim)
	return result
}

// Decode reverses the stuffing of a single frame. Leading delimiter
// bytes and one trailing delimiter are tolerated; malformed group
// headers are errors.
func Decode(frame []byte) ([]byte, error) {
	start := 0
	for start < len(frame) && frame[start] == Delim {
		start++
	}
	end := len(frame)
	if end > start && frame[end-1] == Delim {
		end--
	}
	data := frame[start:end]
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	result := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		code := data[i]
		if code == Delim {
			return nil, ErrStrayDelim
		}
		i++

		n := int(code) - 1
		if i+n > len(data) {
			return nil, ErrTruncated
		}
		for _, b := range data[i : i+n] {
			if b == Delim {
				return nil, ErrStrayDelim
			}
			result = append(result, b)
		}
		i += n

		if code != 0xFF && i < len(data) {
			result = append(result, 0)
		}
	}

	return result, nil
}

// ReadFrame extracts the first complete frame from a byte stream,
// skipping idle delimiter bytes before it. Returns the frame (including
// its trailing delimiter) and the remaining bytes, or nil and the input
// unchanged when no complete frame is present.
func ReadFrame(data []byte) (frame []byte, remaining []byte) {
	start := 0
	for start < len(data) && data[start] == Delim {
		start++
	}

	for i := start; i < len(data); i++ {
		if data[i] == Delim {
			return data[start : i+1], data[i+1:]
		}
	}

	return nil, data
}
