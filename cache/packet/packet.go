package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type Packet struct {
	Header Header
	Data   []byte
}

func (p Packet) GetInfoString() string {
	return fmt.Sprintf("SequenceNumber: %d; Code: %d (%s); DataLength: %d", p.Header.SequenceNumber, p.Header.Code, Names[p.Header.Code], p.Header.DataLength)
}

// Write sends one packet as a single write.
func Write(w io.Writer, h Header, data []byte) error {
	if len(data) > MaxDataLength {
		return fmt.Errorf("packet body of %d bytes exceeds %d", len(data), MaxDataLength)
	}
	h.HeadFlag = HeadFlag
	h.Version = Version
	h.DataLength = uint32(len(data))
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(data))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return err
	}
	buf.Write(data)
	_, err := w.Write(buf.Bytes())
	return err
}

// Read receives one packet.
func Read(r io.Reader) (*Packet, error) {
	var header Header
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.HeadFlag != HeadFlag {
		return nil, fmt.Errorf("Unexpected packet HeadFlag byte: %x", header.HeadFlag)
	}
	if header.DataLength > MaxDataLength {
		return nil, fmt.Errorf("Packet data length %d exceeds %d", header.DataLength, MaxDataLength)
	}
	data := make([]byte, header.DataLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return &Packet{
		Header: header,
		Data:   data,
	}, nil
}
