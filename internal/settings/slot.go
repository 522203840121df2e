package settings

import "encoding/binary"

// ChunkSize is the flash program granularity: one 128-bit quadword,
// the programming unit of the target flash controller.
const ChunkSize = 16

// trailerSize is the encoded size of slotTrailer: magic, blockLength and
// crc, each a little-endian uint32.
const trailerSize = 12

// magic identifies a slot as holding a complete, valid flush.
const magic uint32 = 0x0784EAD0

// slotTrailer is the fixed 12-byte footer every slot ends with. crc
// is reserved but never computed or checked; slot integrity rides on
// the magic word alone.
type slotTrailer struct {
	magic       uint32
	blockLength uint32
	crc         uint32
}

// valid reports whether the trailer carries the magic value, i.e. this
// slot was the target of a completed flush.
func (t slotTrailer) valid() bool {
	return t.magic == magic
}

func encodeTrailer(t slotTrailer) [trailerSize]byte {
	var b [trailerSize]byte
	binary.LittleEndian.PutUint32(b[0:4], t.magic)
	binary.LittleEndian.PutUint32(b[4:8], t.blockLength)
	binary.LittleEndian.PutUint32(b[8:12], t.crc)
	return b
}

func decodeTrailer(b []byte) slotTrailer {
	return slotTrailer{
		magic:       binary.LittleEndian.Uint32(b[0:4]),
		blockLength: binary.LittleEndian.Uint32(b[4:8]),
		crc:         binary.LittleEndian.Uint32(b[8:12]),
	}
}

// recordHeaderSize is the size of a settings record's {key, length}
// header.
const recordHeaderSize = 4

// Reserved key-space boundaries of the platform settings contract.
const (
	KeySpaceStackLow  uint16 = 0x0001
	KeySpaceStackHigh uint16 = 0x000E
	KeySpaceAppLow    uint16 = 0x0100
	KeySpaceAppHigh   uint16 = 0x010A
	KeySpaceVendorLow uint16 = 0x8000
)

// keyTerminator and keyErased are the two key values that end record
// parsing early: an explicitly zeroed key, or the all-ones key that a
// freshly erased (but not yet written) flash region reads back as.
const (
	keyTerminator uint16 = 0x0000
	keyErased     uint16 = 0xFFFF
)

// recordBufCapacity returns the usable record-stream capacity of a slot
// of the given total size.
func recordBufCapacity(slotSize int) int {
	return slotSize - trailerSize
}
