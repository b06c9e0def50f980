package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Versions travel on the wire packed into the low 24 bits of a u32:
// major<<16 | minor<<8 | patch. Zero means unknown.

// PackSemver packs a semantic version into its wire encoding.
func PackSemver(major, minor, patch uint8) uint32 {
	return uint32(major)<<16 | uint32(minor)<<8 | uint32(patch)
}

// UnpackSemver splits a packed version into its components.
func UnpackSemver(v uint32) (major, minor, patch uint8) {
	return uint8(v >> 16), uint8(v >> 8), uint8(v)
}

// FormatSemver renders a packed version as "major.minor.patch".
func FormatSemver(v uint32) string {
	major, minor, patch := UnpackSemver(v)
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

// ParseSemver parses "major.minor.patch" (an optional leading "v" is
// accepted) into the packed encoding. Each component must fit in 8 bits.
func ParseSemver(s string) (uint32, error) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 3 {
		return 0, errors.Errorf("invalid version %q, want major.minor.patch", s)
	}
	var nums [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid version %q", s)
		}
		nums[i] = uint8(n)
	}
	return PackSemver(nums[0], nums[1], nums[2]), nil
}
