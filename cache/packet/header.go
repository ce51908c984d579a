package packet

// Every packet starts with a 20 byte little-endian header followed by
// DataLength bytes of msgpack body.

const (
	HeaderSize          = 20
	HeadFlag       byte = 0xFF
	Version        byte = 1
	MaxDataLength       = 16 << 20
)

type Header struct {
	HeadFlag       byte // Always 0xFF
	Version        byte
	_              byte // Reserved
	_              byte // Reserved
	SessionId      int32
	SequenceNumber uint32 // Per connection and direction, starting from 0
	Code           Code
	_              uint16 // Reserved
	DataLength     uint32
}
