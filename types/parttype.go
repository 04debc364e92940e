package types

import "fmt"

// SliceKind distinguishes the redundancy scheme a ChunkPartType belongs to.
type SliceKind uint8

const (
	SliceStandard SliceKind = iota
	SliceXOR
	SliceEC
	SliceEC2
)

func (k SliceKind) String() string {
	switch k {
	case SliceStandard:
		return "standard"
	case SliceXOR:
		return "xor"
	case SliceEC:
		return "ec"
	case SliceEC2:
		return "ec2"
	default:
		return "unknown"
	}
}

// SliceType names one redundancy family: a plain copy, an XOR group of a
// given level (2..9 data members), or an EC(k,m) group. DataParts/ParityParts
// are meaningless for SliceStandard (both zero) and for SliceXOR DataParts
// holds the XOR level and ParityParts is always 1.
type SliceType struct {
	Kind        SliceKind
	DataParts   int
	ParityParts int
}

// Standard is the plain-copy slice type.
var Standard = SliceType{Kind: SliceStandard}

// XOR returns the slice type for an XOR group of the given level (2..9).
func XOR(level int) SliceType {
	return SliceType{Kind: SliceXOR, DataParts: level, ParityParts: 1}
}

// EC returns the slice type for a Reed-Solomon EC(k,m) group.
func EC(k, m int) SliceType {
	return SliceType{Kind: SliceEC, DataParts: k, ParityParts: m}
}

func (s SliceType) String() string {
	switch s.Kind {
	case SliceStandard:
		return "standard"
	case SliceXOR:
		return fmt.Sprintf("xor%d", s.DataParts)
	case SliceEC, SliceEC2:
		return fmt.Sprintf("%s(%d,%d)", s.Kind, s.DataParts, s.ParityParts)
	default:
		return "unknown"
	}
}

// TotalParts is the number of physical parts one instance of this slice
// family occupies (data + parity members; 1 for a plain copy).
func (s SliceType) TotalParts() int {
	switch s.Kind {
	case SliceStandard:
		return 1
	case SliceXOR:
		return s.DataParts + s.ParityParts
	case SliceEC, SliceEC2:
		return s.DataParts + s.ParityParts
	default:
		return 0
	}
}

// IsParity reports whether part index idx (0-based) within this slice type
// carries parity rather than data.
func (s SliceType) IsParity(idx int) bool {
	switch s.Kind {
	case SliceStandard:
		return false
	case SliceXOR:
		return idx == s.DataParts
	case SliceEC, SliceEC2:
		return idx >= s.DataParts
	default:
		return false
	}
}

// ChunkPartType selects one physical slot within a slice family: the slice
// type plus which member (0-based) of that family this part is.
type ChunkPartType struct {
	Slice     SliceType
	PartIndex int
}

func (p ChunkPartType) String() string {
	return fmt.Sprintf("%s/%d", p.Slice, p.PartIndex)
}
