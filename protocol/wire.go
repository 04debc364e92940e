package protocol

import (
	"encoding/binary"
	"io"

	"github.com/NebulousLabs/errors"
)

// PacketType identifies a packet's payload layout, shared across both
// dialects; a peer's observed PacketType (plus any advertised version) is
// what pins the dialect and Capabilities for the rest of the connection.
type PacketType uint32

const (
	PacketRead PacketType = 1 + iota
	PacketReadData
	PacketReadStatus
	PacketWriteInit
	PacketWriteData
	PacketWriteStatus
	PacketWriteEnd
	PacketGetChunkBlocks
	PacketGetChunkBlocksStatus
	PacketFuseWriteChunk
	PacketFuseWriteChunkReply
	PacketFuseWriteChunkEnd
	PacketFuseTruncate
	PacketFuseTruncateEnd
	PacketPrefetch
	PacketPing
	PacketPong
	PacketTestChunk
)

// MaxPacketLength guards against a malformed/hostile length field driving an
// unbounded allocation. One 64 KiB block of data plus generous header room.
const MaxPacketLength = 64*1024 + 4096

// ReadPacket reads one type:u32 length:u32 payload:length*u8 frame. It
// returns io.ReadFull's errors unwrapped: io.EOF when the stream ends before
// any byte of the header or of the payload is read, io.ErrUnexpectedEOF
// when it ends partway through either.
func ReadPacket(r io.Reader) (PacketType, []byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	ptype := PacketType(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > MaxPacketLength {
		return 0, nil, errors.New("protocol: packet too large")
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return ptype, payload, nil
}

// WritePacket writes one framed packet. It does a single Write call so a
// concurrent writer on the same connection (e.g. a forwarding goroutine)
// cannot interleave a header with another packet's payload.
func WritePacket(w io.Writer, ptype PacketType, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(ptype))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}
