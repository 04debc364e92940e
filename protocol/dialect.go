package protocol

// Dialect selects which wire layout a peer speaks. A single serializer is
// chosen per peer the first time a packet type is observed from it, and
// every subsequent reply on that stream keeps using the same dialect.
type Dialect int

const (
	// Legacy is the fixed-layout dialect: no per-packet version field, and
	// capability-gated fields (lockids, XOR, EC, EC2) are simply absent.
	Legacy Dialect = iota
	// LizardFS is the self-describing dialect: every payload starts with a
	// version:u32 that lets the codec evolve field lists without breaking
	// older peers.
	LizardFS
)

// Capabilities is the set of protocol extensions a peer supports, derived
// once at registration (from the packet version and peer-advertised
// capability bits) rather than re-inspected on every outbound packet.
type Capabilities struct {
	SupportsXOR     bool
	SupportsEC      bool
	SupportsEC2     bool
	SupportsLockIds bool
}

// LegacyCapabilities is what a peer that never advertised anything gets:
// none of the extensions, so a write to an XOR/EC goal must be refused or
// downgraded rather than silently truncated (I-M).
var LegacyCapabilities = Capabilities{}
