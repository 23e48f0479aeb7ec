// Package diskimage identifies cloud images before they are imported into a
// Proxmox storage. Detection is informational: qm import-from is the final
// judge of what it can read.
package diskimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Format is a disk image container format understood by qm's import-from.
type Format string

const (
	FormatQCOW2   Format = "qcow2"
	FormatVMDK    Format = "vmdk"
	FormatRaw     Format = "raw"
	FormatUnknown Format = "unknown"
)

// Magic bytes and signatures for disk image format detection
var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// vmdkMagic is "KDMV" at offset 0 of a sparse extent.
	vmdkMagic = []byte{0x4b, 0x44, 0x4d, 0x56}

	// mbrSignature is the boot sector signature at offset 510. GPT disks carry
	// it too, in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

const (
	qcow2SizeOffset    = 24
	vmdkCapacityOffset = 12
	sectorSize         = 512
	bootSigOffset      = 510
)

// Info describes a detected image.
type Info struct {
	Format Format
	// VirtualSize is the guest-visible disk size in bytes. For raw images it
	// is the file size.
	VirtualSize uint64
}

// Detect reads the header of the file at path and reports its format.
//
// Validation rules:
//   - QCOW2: magic bytes "QFI\xfb" at offset 0
//   - VMDK: magic bytes "KDMV" at offset 0
//   - RAW: MBR signature 0x55 0xaa at offset 510
//
// Anything else, including an HTML error page saved under the image name,
// returns an error.
func Detect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 32)
	n, err := io.ReadFull(f, header)
	if n < len(qcow2Magic) {
		return Info{}, fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}

	if bytes.Equal(header[:4], qcow2Magic) {
		if n < qcow2SizeOffset+8 {
			return Info{}, fmt.Errorf("truncated qcow2 header")
		}
		return Info{
			Format:      FormatQCOW2,
			VirtualSize: binary.BigEndian.Uint64(header[qcow2SizeOffset : qcow2SizeOffset+8]),
		}, nil
	}

	if bytes.Equal(header[:4], vmdkMagic) {
		if n < vmdkCapacityOffset+8 {
			return Info{}, fmt.Errorf("truncated vmdk header")
		}
		sectors := binary.LittleEndian.Uint64(header[vmdkCapacityOffset : vmdkCapacityOffset+8])
		return Info{Format: FormatVMDK, VirtualSize: sectors * sectorSize}, nil
	}

	// Not QCOW2 or VMDK, check if it's a bootable RAW image
	if _, err := f.Seek(bootSigOffset, io.SeekStart); err != nil {
		return Info{}, fmt.Errorf("failed to seek to boot sector signature: %w", err)
	}

	sig := make([]byte, 2)
	if _, err := io.ReadFull(f, sig); err != nil {
		return Info{}, fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}

	if !bytes.Equal(sig, mbrSignature) {
		return Info{}, fmt.Errorf("unsupported or invalid image: not qcow2/vmdk and missing boot sector signature (0x55aa at offset 510)")
	}

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat image: %w", err)
	}
	return Info{Format: FormatRaw, VirtualSize: uint64(st.Size())}, nil
}
