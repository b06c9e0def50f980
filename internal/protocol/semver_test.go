package protocol

import "testing"

func TestPackSemver(t *testing.T) {
	tests := []struct {
		major, minor, patch uint8
		expected            uint32
	}{
		{0, 0, 0, 0x000000},
		{1, 2, 3, 0x010203},
		{0, 3, 1, 0x000301},
		{255, 255, 255, 0xFFFFFF},
	}

	for _, tc := range tests {
		result := PackSemver(tc.major, tc.minor, tc.patch)
		if result != tc.expected {
			t.Errorf("PackSemver(%d, %d, %d) = 0x%06X, want 0x%06X",
				tc.major, tc.minor, tc.patch, result, tc.expected)
		}

		major, minor, patch := UnpackSemver(result)
		if major != tc.major || minor != tc.minor || patch != tc.patch {
			t.Errorf("UnpackSemver(0x%06X) = (%d, %d, %d), want (%d, %d, %d)",
				result, major, minor, patch, tc.major, tc.minor, tc.patch)
		}
	}
}

func TestFormatSemver(t *testing.T) {
	tests := []struct {
		packed   uint32
		expected string
	}{
		{0x010203, "1.2.3"},
		{0x000000, "0.0.0"},
		{0xFF0001, "255.0.1"},
	}

	for _, tc := range tests {
		result := FormatSemver(tc.packed)
		if result != tc.expected {
			t.Errorf("FormatSemver(0x%06X) = %q, want %q", tc.packed, result, tc.expected)
		}
	}
}

func TestParseSemver_Valid(t *testing.T) {
	tests := []struct {
		input    string
		expected uint32
	}{
		{"1.2.3", 0x010203},
		{"v1.2.3", 0x010203},
		{"0.0.0", 0x000000},
		{"255.255.255", 0xFFFFFF},
		{"0.3.1", 0x000301},
	}

	for _, tc := range tests {
		result, err := ParseSemver(tc.input)
		if err != nil {
			t.Errorf("ParseSemver(%q) error = %v", tc.input, err)
			continue
		}
		if result != tc.expected {
			t.Errorf("ParseSemver(%q) = 0x%06X, want 0x%06X", tc.input, result, tc.expected)
		}
	}
}

func TestParseSemver_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"1",
		"1.2",
		"1.2.3.4",
		"a.b.c",
		"256.0.0",
		"1.2.-3",
		"1..3",
	}

	for _, input := range invalid {
		if _, err := ParseSemver(input); err == nil {
			t.Errorf("ParseSemver(%q) expected error, got nil", input)
		}
	}
}
