// pkg/spead/encode.go

package spead

import "encoding/binary"

// PacketSpec describes one packet to encode. It is the minimal send side
// needed by the packet generator and the tests; descriptors and general
// item encoding are not supported.
type PacketSpec struct {
	HeapCnt         int64
	HeapLength      int64
	PayloadOffset   int64
	Payload         []byte
	HeapAddressBits int // 0 means DefaultHeapAddressBits
	StreamCtrl      int64
	// Items are additional immediate items appended to the pointer table.
	Items []ImmediateItem
}

type ImmediateItem struct {
	ID    uint64
	Value uint64
}

func putPointer(b []byte, immediate bool, id uint64, bits int, value uint64) {
	p := id<<uint(bits) | value&(uint64(1)<<uint(bits)-1)
	if immediate {
		p |= 1 << 63
	}
	binary.BigEndian.PutUint64(b, p)
}

// EncodePacket renders one SPEAD packet.
func EncodePacket(s *PacketSpec) []byte {
	bits := s.HeapAddressBits
	if bits == 0 {
		bits = DefaultHeapAddressBits
	}
	items := []ImmediateItem{
		{IDHeapCnt, uint64(s.HeapCnt)},
		{IDHeapLength, uint64(s.HeapLength)},
		{IDPayloadLength, uint64(len(s.Payload))},
		{IDPayloadOffset, uint64(s.PayloadOffset)},
	}
	if s.StreamCtrl > 0 {
		items = append(items, ImmediateItem{IDStreamCtrl, uint64(s.StreamCtrl)})
	}
	items = append(items, s.Items...)

	buf := make([]byte, HeaderSize+len(items)*ItemPointerSize+len(s.Payload))
	buf[0] = MagicByte
	buf[1] = VersionByte
	buf[2] = byte(ItemPointerSize - bits/8)
	buf[3] = byte(bits / 8)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(items)))
	for i, it := range items {
		putPointer(buf[HeaderSize+i*ItemPointerSize:], true, it.ID, bits, it.Value)
	}
	copy(buf[HeaderSize+len(items)*ItemPointerSize:], s.Payload)
	return buf
}

// EncodeStopPacket renders a packet carrying only a stream_ctrl stop item.
func EncodeStopPacket(heapCnt int64) []byte {
	return EncodePacket(&PacketSpec{HeapCnt: heapCnt, StreamCtrl: CtrlStreamStop})
}
