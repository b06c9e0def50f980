// Package uf2 converts raw firmware images into UF2 files for drag-and-
// drop flashing through the RP2040 ROM bootloader.
package uf2

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// UF2 framing constants
const (
	magicStart0 = 0x0A324655
	magicStart1 = 0x9E5D5157
	magicEnd    = 0x0AB16F30

	flagFamilyIDPresent = 0x00002000

	// BlockSize is the on-disk size of one UF2 block.
	BlockSize = 512

	// PayloadSize is the number of firmware bytes carried per block.
	PayloadSize = 256
)

// Defaults for crispy images.
const (
	DefaultBaseAddress = 0x10000000
	DefaultFamilyID    = 0xE48BFF56 // RP2040
)

// Convert packs a firmware image into UF2 blocks targeting baseAddr.
func Convert(data []byte, baseAddr, familyID uint32) []byte {
	numBlocks := (len(data) + PayloadSize - 1) / PayloadSize
	out := make([]byte, 0, numBlocks*BlockSize)

	for i := 0; i < numBlocks; i++ {
		start := i * PayloadSize
		end := start + PayloadSize
		if end > len(data) {
			end = len(data)
		}

		block := make([]byte, BlockSize)
		binary.LittleEndian.PutUint32(block[0:4], magicStart0)
		binary.LittleEndian.PutUint32(block[4:8], magicStart1)
		binary.LittleEndian.PutUint32(block[8:12], flagFamilyIDPresent)
		binary.LittleEndian.PutUint32(block[12:16], baseAddr+uint32(start))
		binary.LittleEndian.PutUint32(block[16:20], PayloadSize)
		binary.LittleEndian.PutUint32(block[20:24], uint32(i))
		binary.LittleEndian.PutUint32(block[24:28], uint32(numBlocks))
		binary.LittleEndian.PutUint32(block[28:32], familyID)
		copy(block[32:], data[start:end])
		binary.LittleEndian.PutUint32(block[508:512], magicEnd)

		out = append(out, block...)
	}

	return out
}

// ConvertFile reads a raw image and writes its UF2 rendering.
func ConvertFile(inPath, outPath string, baseAddr, familyID uint32) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return errors.Wrap(err, "read input")
	}
	if len(data) == 0 {
		return errors.Errorf("input file %s is empty", inPath)
	}

	if err := os.WriteFile(outPath, Convert(data, baseAddr, familyID), 0644); err != nil {
		return errors.Wrap(err, "write output")
	}
	return nil
}
