package i2c

import "stampfly-hal-go/errcode"

// SegKind enumerates the primitive bus operations a frame is built from,
// mirroring the controller's command sequence (START, address+R/W byte,
// data bytes, repeated START, STOP).
type SegKind uint8

const (
	SegStart SegKind = iota
	SegAddress
	SegWrite
	SegRead
	SegStop
)

// Seg is one primitive operation. A frame ([]Seg) executes as a single
// atomic transaction: intervening traffic between segments would corrupt
// the slave's register pointer.
type Seg struct {
	Kind     SegKind
	Addr     byte   // SegAddress: 7-bit slave address
	Read     bool   // SegAddress: R/W bit (true = read)
	W        []byte // SegWrite: bytes to transmit, each ACK-checked
	R        []byte // SegRead: filled by the wire
	NackLast bool   // SegRead: NACK the final byte (end of read)
}

// Phase tags where a transaction failed, for diagnostics.
type Phase uint8

const (
	PhaseAddress Phase = iota
	PhaseData
)

func (p Phase) String() string {
	if p == PhaseAddress {
		return "address"
	}
	return "data"
}

// BusFault is the wire's protocol-level failure (NACK, arbitration loss),
// carrying the phase it occurred in. Its code is bus_error.
type BusFault struct {
	Phase Phase
	Seg   int // index of the failing segment
}

func (f *BusFault) Error() string {
	return "bus_error (" + f.Phase.String() + " phase)"
}

func (f *BusFault) Code() errcode.Code { return errcode.BusError }

// Frame builders. Read buffers are allocated by the caller so the wire
// fills in place.

func writeFrame(addr byte, data []byte) []Seg {
	return []Seg{
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr},
		{Kind: SegWrite, W: data},
		{Kind: SegStop},
	}
}

func readFrame(addr byte, buf []byte) []Seg {
	return []Seg{
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr, Read: true},
		{Kind: SegRead, R: buf, NackLast: true},
		{Kind: SegStop},
	}
}

func writeRegFrame(addr, reg byte, data []byte) []Seg {
	segs := []Seg{
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr},
		{Kind: SegWrite, W: []byte{reg}},
	}
	if len(data) > 0 {
		segs = append(segs, Seg{Kind: SegWrite, W: data})
	}
	return append(segs, Seg{Kind: SegStop})
}

// readRegFrame uses a repeated START between the register-pointer write
// and the read — no STOP in between, the whole sequence is one
// transaction.
func readRegFrame(addr, reg byte, buf []byte) []Seg {
	return []Seg{
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr},
		{Kind: SegWrite, W: []byte{reg}},
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr, Read: true},
		{Kind: SegRead, R: buf, NackLast: true},
		{Kind: SegStop},
	}
}

func writeReadFrame(addr byte, w, r []byte) []Seg {
	return []Seg{
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr},
		{Kind: SegWrite, W: w},
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr, Read: true},
		{Kind: SegRead, R: r, NackLast: true},
		{Kind: SegStop},
	}
}

// probeFrame addresses the slave with no payload; ACK of the addressing
// phase alone indicates presence.
func probeFrame(addr byte) []Seg {
	return []Seg{
		{Kind: SegStart},
		{Kind: SegAddress, Addr: addr},
		{Kind: SegStop},
	}
}
