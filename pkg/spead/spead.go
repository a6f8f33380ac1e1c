// pkg/spead/spead.go

package spead

// SPEAD-64 flavour constants. All wire fields are big endian.
const (
	MagicByte   = 0x53
	VersionByte = 0x04

	// Size of an item pointer on the wire.
	ItemPointerSize = 8
	// Size of the fixed packet header.
	HeaderSize = 8

	DefaultHeapAddressBits = 48
)

// Well-known item IDs.
const (
	IDNull          = 0x0
	IDHeapCnt       = 0x1
	IDHeapLength    = 0x2
	IDPayloadLength = 0x3
	IDPayloadOffset = 0x4
	IDStreamCtrl    = 0x5
)

// Values of the stream_ctrl item.
const (
	CtrlStreamStart = 0x1
	CtrlStreamStop  = 0x2
)
