package protocol

import (
	"net"

	"github.com/lizardfs/lizardfs-sub006/types"
)

// Addr is a chunkserver endpoint as it travels on the wire: 4-byte IPv4 plus
// a port, matching the legacy protocol's packed address representation.
type Addr struct {
	IP   [4]byte
	Port uint16
}

func AddrFromTCP(a *net.TCPAddr) Addr {
	var out Addr
	if ip4 := a.IP.To4(); ip4 != nil {
		copy(out.IP[:], ip4)
	}
	out.Port = uint16(a.Port)
	return out
}

func putAddr(e *Encoder, a Addr) {
	e.PutBytes(a.IP[:])
	e.PutU16(a.Port)
}

func getAddr(d *Decoder) (Addr, error) {
	b, err := d.GetBytes(4)
	if err != nil {
		return Addr{}, err
	}
	var a Addr
	copy(a.IP[:], b)
	port, err := d.GetU16()
	if err != nil {
		return Addr{}, err
	}
	a.Port = port
	return a, nil
}

func putPartType(e *Encoder, pt types.ChunkPartType) {
	e.PutU8(uint8(pt.Slice.Kind))
	e.PutU8(uint8(pt.Slice.DataParts))
	e.PutU8(uint8(pt.Slice.ParityParts))
	e.PutU8(uint8(pt.PartIndex))
}

func getPartType(d *Decoder) (types.ChunkPartType, error) {
	kind, err := d.GetU8()
	if err != nil {
		return types.ChunkPartType{}, err
	}
	data, err := d.GetU8()
	if err != nil {
		return types.ChunkPartType{}, err
	}
	parity, err := d.GetU8()
	if err != nil {
		return types.ChunkPartType{}, err
	}
	idx, err := d.GetU8()
	if err != nil {
		return types.ChunkPartType{}, err
	}
	return types.ChunkPartType{
		Slice:     types.SliceType{Kind: types.SliceKind(kind), DataParts: int(data), ParityParts: int(parity)},
		PartIndex: int(idx),
	}, nil
}

// Read is the READ request: Client -> Chunkserver.
type Read struct {
	ChunkId      types.ChunkId
	ChunkVersion types.Version
	PartType     types.ChunkPartType
	Offset       uint32
	Size         uint32
}

func (p Read) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(uint32(p.ChunkVersion))
	putPartType(e, p.PartType)
	e.PutU32(p.Offset)
	e.PutU32(p.Size)
	return e.Bytes()
}

func UnmarshalRead(dialect Dialect, payload []byte) (Read, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return Read{}, err
	}
	var p Read
	cid, err := d.GetU64()
	if err != nil {
		return Read{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	ver, err := d.GetU32()
	if err != nil {
		return Read{}, err
	}
	p.ChunkVersion = types.Version(ver)
	if p.PartType, err = getPartType(d); err != nil {
		return Read{}, err
	}
	if p.Offset, err = d.GetU32(); err != nil {
		return Read{}, err
	}
	if p.Size, err = d.GetU32(); err != nil {
		return Read{}, err
	}
	return p, nil
}

// ReadData carries one block of read data: CS -> Client.
type ReadData struct {
	ChunkId types.ChunkId
	Offset  uint32
	Size    uint32
	CRC     uint32
	Data    []byte
}

func (p ReadData) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(p.Offset)
	e.PutU32(p.Size)
	e.PutU32(p.CRC)
	e.PutBytes(p.Data)
	return e.Bytes()
}

func UnmarshalReadData(dialect Dialect, payload []byte) (ReadData, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return ReadData{}, err
	}
	var p ReadData
	cid, err := d.GetU64()
	if err != nil {
		return ReadData{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	if p.Offset, err = d.GetU32(); err != nil {
		return ReadData{}, err
	}
	if p.Size, err = d.GetU32(); err != nil {
		return ReadData{}, err
	}
	if p.CRC, err = d.GetU32(); err != nil {
		return ReadData{}, err
	}
	data, err := d.GetBytes(int(p.Size))
	if err != nil {
		return ReadData{}, err
	}
	p.Data = data
	return p, nil
}

// ReadStatus terminates a read: CS -> Client.
type ReadStatus struct {
	ChunkId types.ChunkId
	Status  Status
}

func (p ReadStatus) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU8(uint8(p.Status))
	return e.Bytes()
}

func UnmarshalReadStatus(dialect Dialect, payload []byte) (ReadStatus, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return ReadStatus{}, err
	}
	var p ReadStatus
	cid, err := d.GetU64()
	if err != nil {
		return ReadStatus{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	st, err := d.GetU8()
	if err != nil {
		return ReadStatus{}, err
	}
	p.Status = Status(st)
	return p, nil
}

// WriteInit opens a write chain: Client -> CS. Chain is ordered by
// decreasing chunkserver version so the packet built for chain[0] is in the
// newest dialect that hop can parse.
type WriteInit struct {
	ChunkId      types.ChunkId
	ChunkVersion types.Version
	PartType     types.ChunkPartType
	Chain        []Addr
}

func (p WriteInit) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(uint32(p.ChunkVersion))
	putPartType(e, p.PartType)
	PutVector(e, p.Chain, putAddr)
	return e.Bytes()
}

func UnmarshalWriteInit(dialect Dialect, payload []byte) (WriteInit, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return WriteInit{}, err
	}
	var p WriteInit
	cid, err := d.GetU64()
	if err != nil {
		return WriteInit{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	ver, err := d.GetU32()
	if err != nil {
		return WriteInit{}, err
	}
	p.ChunkVersion = types.Version(ver)
	if p.PartType, err = getPartType(d); err != nil {
		return WriteInit{}, err
	}
	chain, err := GetVector(d, getAddr)
	if err != nil {
		return WriteInit{}, err
	}
	p.Chain = chain
	return p, nil
}

// WriteData flows either direction along the chain: head->tail forwarding,
// and (via WriteStatus) tail->head acking.
type WriteData struct {
	ChunkId types.ChunkId
	WriteId uint32
	Block   uint16
	Offset  uint32
	Size    uint32
	CRC     uint32
	Data    []byte
}

func (p WriteData) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(p.WriteId)
	e.PutU16(p.Block)
	e.PutU32(p.Offset)
	e.PutU32(p.Size)
	e.PutU32(p.CRC)
	e.PutBytes(p.Data)
	return e.Bytes()
}

func UnmarshalWriteData(dialect Dialect, payload []byte) (WriteData, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return WriteData{}, err
	}
	var p WriteData
	cid, err := d.GetU64()
	if err != nil {
		return WriteData{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	if p.WriteId, err = d.GetU32(); err != nil {
		return WriteData{}, err
	}
	if p.Block, err = d.GetU16(); err != nil {
		return WriteData{}, err
	}
	if p.Offset, err = d.GetU32(); err != nil {
		return WriteData{}, err
	}
	if p.Size, err = d.GetU32(); err != nil {
		return WriteData{}, err
	}
	if p.CRC, err = d.GetU32(); err != nil {
		return WriteData{}, err
	}
	data, err := d.GetBytes(int(p.Size))
	if err != nil {
		return WriteData{}, err
	}
	p.Data = data
	return p, nil
}

// WriteStatus acks (or fails) one writeid: CS -> Upstream.
type WriteStatus struct {
	ChunkId types.ChunkId
	WriteId uint32
	Status  Status
}

func (p WriteStatus) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(p.WriteId)
	e.PutU8(uint8(p.Status))
	return e.Bytes()
}

func UnmarshalWriteStatus(dialect Dialect, payload []byte) (WriteStatus, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return WriteStatus{}, err
	}
	var p WriteStatus
	cid, err := d.GetU64()
	if err != nil {
		return WriteStatus{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	if p.WriteId, err = d.GetU32(); err != nil {
		return WriteStatus{}, err
	}
	st, err := d.GetU8()
	if err != nil {
		return WriteStatus{}, err
	}
	p.Status = Status(st)
	return p, nil
}

// WriteEnd: Client -> CS, only honored once local work has drained.
type WriteEnd struct {
	ChunkId types.ChunkId
}

func (p WriteEnd) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	return e.Bytes()
}

func UnmarshalWriteEnd(dialect Dialect, payload []byte) (WriteEnd, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return WriteEnd{}, err
	}
	cid, err := d.GetU64()
	if err != nil {
		return WriteEnd{}, err
	}
	return WriteEnd{ChunkId: types.ChunkId(cid)}, nil
}

// GetChunkBlocks: CS <-> CS, queries the logical block count of a chunk
// part (used by the replicator to size a recovery plan).
type GetChunkBlocks struct {
	ChunkId      types.ChunkId
	ChunkVersion types.Version
	PartType     types.ChunkPartType
}

func (p GetChunkBlocks) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(uint32(p.ChunkVersion))
	putPartType(e, p.PartType)
	return e.Bytes()
}

func UnmarshalGetChunkBlocks(dialect Dialect, payload []byte) (GetChunkBlocks, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return GetChunkBlocks{}, err
	}
	var p GetChunkBlocks
	cid, err := d.GetU64()
	if err != nil {
		return GetChunkBlocks{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	ver, err := d.GetU32()
	if err != nil {
		return GetChunkBlocks{}, err
	}
	p.ChunkVersion = types.Version(ver)
	if p.PartType, err = getPartType(d); err != nil {
		return GetChunkBlocks{}, err
	}
	return p, nil
}

type GetChunkBlocksStatus struct {
	ChunkId      types.ChunkId
	ChunkVersion types.Version
	PartType     types.ChunkPartType
	NBlocks      uint16
	Status       Status
}

func (p GetChunkBlocksStatus) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(uint32(p.ChunkVersion))
	putPartType(e, p.PartType)
	e.PutU16(p.NBlocks)
	e.PutU8(uint8(p.Status))
	return e.Bytes()
}

func UnmarshalGetChunkBlocksStatus(dialect Dialect, payload []byte) (GetChunkBlocksStatus, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return GetChunkBlocksStatus{}, err
	}
	var p GetChunkBlocksStatus
	cid, err := d.GetU64()
	if err != nil {
		return GetChunkBlocksStatus{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	ver, err := d.GetU32()
	if err != nil {
		return GetChunkBlocksStatus{}, err
	}
	p.ChunkVersion = types.Version(ver)
	if p.PartType, err = getPartType(d); err != nil {
		return GetChunkBlocksStatus{}, err
	}
	if p.NBlocks, err = d.GetU16(); err != nil {
		return GetChunkBlocksStatus{}, err
	}
	st, err := d.GetU8()
	if err != nil {
		return GetChunkBlocksStatus{}, err
	}
	p.Status = Status(st)
	return p, nil
}

// FuseWriteChunk: Client -> Master, requests a chain to write to.
type FuseWriteChunk struct {
	ChunkIdHint types.ChunkId
	Index       uint32
	Inode       types.Inode
	LockId      types.LockId
	HasLockId   bool
}

func (p FuseWriteChunk) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkIdHint))
	e.PutU32(p.Index)
	e.PutU32(uint32(p.Inode))
	if p.HasLockId {
		e.PutU8(1)
		e.PutU32(uint32(p.LockId))
	} else {
		e.PutU8(0)
	}
	return e.Bytes()
}

func UnmarshalFuseWriteChunk(dialect Dialect, payload []byte) (FuseWriteChunk, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return FuseWriteChunk{}, err
	}
	var p FuseWriteChunk
	cid, err := d.GetU64()
	if err != nil {
		return FuseWriteChunk{}, err
	}
	p.ChunkIdHint = types.ChunkId(cid)
	if p.Index, err = d.GetU32(); err != nil {
		return FuseWriteChunk{}, err
	}
	inode, err := d.GetU32()
	if err != nil {
		return FuseWriteChunk{}, err
	}
	p.Inode = types.Inode(inode)
	has, err := d.GetU8()
	if err != nil {
		return FuseWriteChunk{}, err
	}
	if has != 0 {
		p.HasLockId = true
		lid, err := d.GetU32()
		if err != nil {
			return FuseWriteChunk{}, err
		}
		p.LockId = types.LockId(lid)
	}
	return p, nil
}

// Location is one entry of a FuseWriteChunkReply's chain/locations vector.
type Location struct {
	Addr     Addr
	PartType types.ChunkPartType
	CSVer    uint32
}

func putLocation(e *Encoder, l Location) {
	putAddr(e, l.Addr)
	putPartType(e, l.PartType)
	e.PutU32(l.CSVer)
}

func getLocation(d *Decoder) (Location, error) {
	a, err := getAddr(d)
	if err != nil {
		return Location{}, err
	}
	pt, err := getPartType(d)
	if err != nil {
		return Location{}, err
	}
	ver, err := d.GetU32()
	if err != nil {
		return Location{}, err
	}
	return Location{Addr: a, PartType: pt, CSVer: ver}, nil
}

// FuseWriteChunkReply: Master -> Client.
type FuseWriteChunkReply struct {
	FileLength   uint64
	ChunkId      types.ChunkId
	ChunkVersion types.Version
	LockId       types.LockId
	Locations    []Location
}

func (p FuseWriteChunkReply) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(p.FileLength)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(uint32(p.ChunkVersion))
	e.PutU32(uint32(p.LockId))
	PutVector(e, p.Locations, putLocation)
	return e.Bytes()
}

func UnmarshalFuseWriteChunkReply(dialect Dialect, payload []byte) (FuseWriteChunkReply, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return FuseWriteChunkReply{}, err
	}
	var p FuseWriteChunkReply
	if p.FileLength, err = d.GetU64(); err != nil {
		return FuseWriteChunkReply{}, err
	}
	cid, err := d.GetU64()
	if err != nil {
		return FuseWriteChunkReply{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	ver, err := d.GetU32()
	if err != nil {
		return FuseWriteChunkReply{}, err
	}
	p.ChunkVersion = types.Version(ver)
	lid, err := d.GetU32()
	if err != nil {
		return FuseWriteChunkReply{}, err
	}
	p.LockId = types.LockId(lid)
	locs, err := GetVector(d, getLocation)
	if err != nil {
		return FuseWriteChunkReply{}, err
	}
	p.Locations = locs
	return p, nil
}

// FuseWriteChunkEnd: Client -> Master.
type FuseWriteChunkEnd struct {
	ChunkId    types.ChunkId
	LockId     types.LockId
	Inode      types.Inode
	FileLength uint64
}

func (p FuseWriteChunkEnd) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU64(uint64(p.ChunkId))
	e.PutU32(uint32(p.LockId))
	e.PutU32(uint32(p.Inode))
	e.PutU64(p.FileLength)
	return e.Bytes()
}

func UnmarshalFuseWriteChunkEnd(dialect Dialect, payload []byte) (FuseWriteChunkEnd, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return FuseWriteChunkEnd{}, err
	}
	var p FuseWriteChunkEnd
	cid, err := d.GetU64()
	if err != nil {
		return FuseWriteChunkEnd{}, err
	}
	p.ChunkId = types.ChunkId(cid)
	lid, err := d.GetU32()
	if err != nil {
		return FuseWriteChunkEnd{}, err
	}
	p.LockId = types.LockId(lid)
	inode, err := d.GetU32()
	if err != nil {
		return FuseWriteChunkEnd{}, err
	}
	p.Inode = types.Inode(inode)
	if p.FileLength, err = d.GetU64(); err != nil {
		return FuseWriteChunkEnd{}, err
	}
	return p, nil
}

// FuseTruncate: Client -> Master. May reply with StatusDelayed and a
// chunkid the client must write-out first (XOR/EC parity truncation).
type FuseTruncate struct {
	Inode     types.Inode
	NewLength uint64
	LockId    types.LockId
}

func (p FuseTruncate) Marshal(d Dialect) []byte {
	e := NewEncoder(d, 1)
	e.PutU32(uint32(p.Inode))
	e.PutU64(p.NewLength)
	e.PutU32(uint32(p.LockId))
	return e.Bytes()
}

func UnmarshalFuseTruncate(dialect Dialect, payload []byte) (FuseTruncate, error) {
	d, err := NewDecoder(dialect, payload)
	if err != nil {
		return FuseTruncate{}, err
	}
	var p FuseTruncate
	inode, err := d.GetU32()
	if err != nil {
		return FuseTruncate{}, err
	}
	p.Inode = types.Inode(inode)
	if p.NewLength, err = d.GetU64(); err != nil {
		return FuseTruncate{}, err
	}
	lid, err := d.GetU32()
	if err != nil {
		return FuseTruncate{}, err
	}
	p.LockId = types.LockId(lid)
	return p, nil
}

// FuseTruncateEnd: Client -> Master, completes a delayed truncate.
type FuseTruncateEnd struct {
	Inode     types.Inode
	NewLength uint64
	LockId    types.LockId
}

func (p FuseTruncateEnd) Marshal(d Dialect) []byte { return FuseTruncate(p).Marshal(d) }

func UnmarshalFuseTruncateEnd(dialect Dialect, payload []byte) (FuseTruncateEnd, error) {
	t, err := UnmarshalFuseTruncate(dialect, payload)
	return FuseTruncateEnd(t), err
}
