package rtu

import (
	"github.com/loamlabs/rtucore/crc"
	"github.com/loamlabs/rtucore/ring"
)

// Role tells Parser which side of the wire it is reading, which
// changes how the write-multiple-registers PDU is decoded: a master
// only ever sees the short echo response (register address + count),
// while a slave sees the full request (register address + count +
// byte count + the values themselves). Read-holding-registers is
// symmetric in the opposite way: a slave sees the short request, a
// master sees the length-prefixed response data.
type Role int

const (
	RoleMaster Role = iota
	RoleSlave
)

type state int

const (
	stateAddr state = iota
	stateFunc
	stateErr
	stateDataLen
	stateData
	stateReg
	stateRegLen
	stateCRC
)

// Parser is the byte-driven sliding-window frame parser. It is fed
// bytes one at a time from an RX ring via Feed and emits a validated
// Frame whenever a PDU's CRC checks out. It holds no reference to the
// ring between calls other than the absolute anchor/forward counters,
// so it is safe to keep a single Parser per RX ring for the engine's
// lifetime.
//
// anchor is the absolute index of the first byte of the frame
// currently being attempted; forward is the absolute index of the
// next byte to examine. rd ≤ anchor ≤ forward ≤ wr always holds for
// the ring Feed is called with. On a mismatch the parser resyncs:
// anchor advances by exactly one byte (the ring's rd catches up to
// the new anchor) and forward resets to the new anchor, so a run of
// garbage is discarded one byte at a time rather than all at once —
// a valid frame hiding just past a single stray byte is not skipped
// over along with it.
type Parser struct {
	role Role

	state       state
	anchor      uint32
	forward     uint32
	initialized bool

	calcCRC uint16
	recvCRC [2]byte
	crcIn   int

	addr     byte
	fn       Function
	excCode  byte
	regAddr  [2]byte
	regCount [2]byte
	regIn    int

	byteCount int
	data      [MaxReadBytes]byte
	dataIn    int
}

// NewParser returns a Parser for the given role. role determines how
// FUNC routes WriteMultipleRegisters and ReadHoldingRegisters, per the
// Role doc comment.
func NewParser(role Role) *Parser {
	return &Parser{role: role}
}

// Reset re-arms the parser to start scanning from absolute index rd,
// discarding any partially-accumulated frame state. Feed calls it on
// its first use, seeded with the RX ring's current RD(); callers that
// move the ring's rd themselves call it again with the new RD().
func (p *Parser) Reset(rd uint32) {
	p.state = stateAddr
	p.anchor = rd
	p.forward = rd
	p.initialized = true
}

// Feed advances the parser over whatever bytes are available in rx
// between its forward cursor and rx.WR(), applying the expectedAddr
// filter in the ADDR state. It returns the first completed frame it
// assembles, if any, and leaves the parser positioned to continue
// scanning on the next call; if no complete frame is available yet it
// returns false having consumed everything currently buffered.
//
// Feed never blocks and performs no I/O: the embedder is responsible
// for getting bytes into rx (via a Transport.Read + rx.Add/AdvanceWR)
// before calling Feed.
func (p *Parser) Feed(rx *ring.Ring[byte], expectedAddr byte) (Frame, bool) {
	if !p.initialized {
		p.Reset(rx.RD())
	}
	for {
		off := p.forward - rx.RD()
		c, ok := rx.PeekAt(off)
		if !ok {
			return Frame{}, false
		}
		p.forward++

		switch p.state {
		case stateAddr:
			if c != expectedAddr {
				p.resync(rx)
				continue
			}
			p.addr = c
			p.calcCRC = crc.Update(crc.Initial(), c)
			p.state = stateFunc

		case stateFunc:
			p.calcCRC = crc.Update(p.calcCRC, c)
			switch {
			case Function(c)&exceptionBit != 0:
				p.fn = Function(c)
				p.state = stateErr
			case Function(c) == ReadHoldingRegisters:
				p.fn = ReadHoldingRegisters
				if p.role == RoleSlave {
					p.regIn = 0
					p.state = stateReg
				} else {
					p.state = stateDataLen
				}
			case Function(c) == WriteMultipleRegisters:
				p.fn = WriteMultipleRegisters
				p.regIn = 0
				p.state = stateReg
			default:
				p.resync(rx)
			}

		case stateErr:
			p.calcCRC = crc.Update(p.calcCRC, c)
			p.excCode = c
			p.crcIn = 0
			p.state = stateCRC

		case stateReg:
			p.calcCRC = crc.Update(p.calcCRC, c)
			p.regAddr[p.regIn] = c
			p.regIn++
			if p.regIn >= 2 {
				p.regIn = 0
				p.state = stateRegLen
			}

		case stateRegLen:
			p.calcCRC = crc.Update(p.calcCRC, c)
			p.regCount[p.regIn] = c
			p.regIn++
			if p.regIn >= 2 {
				p.regIn = 0
				if p.fn == WriteMultipleRegisters && p.role == RoleSlave {
					p.state = stateDataLen
				} else {
					p.crcIn = 0
					p.state = stateCRC
				}
			}

		case stateDataLen:
			p.calcCRC = crc.Update(p.calcCRC, c)
			if int(c) > MaxReadBytes {
				p.resync(rx)
				continue
			}
			p.byteCount = int(c)
			p.dataIn = 0
			if p.byteCount == 0 {
				p.crcIn = 0
				p.state = stateCRC
			} else {
				p.state = stateData
			}

		case stateData:
			p.calcCRC = crc.Update(p.calcCRC, c)
			p.data[p.dataIn] = c
			p.dataIn++
			if p.dataIn >= p.byteCount {
				p.crcIn = 0
				p.state = stateCRC
			}

		case stateCRC:
			p.recvCRC[p.crcIn] = c
			p.crcIn++
			if p.crcIn >= 2 {
				recv := crc.Combine(p.recvCRC[0], p.recvCRC[1])
				if recv != p.calcCRC {
					p.resync(rx)
					continue
				}
				frame := p.buildFrame()
				p.flush(rx)
				return frame, true
			}
		}
	}
}

func (p *Parser) buildFrame() Frame {
	f := Frame{
		SlaveAddr: p.addr,
		Function:  p.fn,
	}
	if p.fn&exceptionBit != 0 {
		f.IsExc = true
		f.Exc = Exception(p.excCode)
		return f
	}
	switch p.fn {
	case ReadHoldingRegisters:
		if p.role == RoleSlave {
			f.RegAddr = be16(p.regAddr)
			f.RegCount = be16(p.regCount)
		} else {
			f.Data = p.data
			f.DataLen = p.dataIn
		}
	case WriteMultipleRegisters:
		f.RegAddr = be16(p.regAddr)
		f.RegCount = be16(p.regCount)
		if p.role == RoleSlave {
			f.Data = p.data
			f.DataLen = p.dataIn
		}
	}
	return f
}

func be16(b [2]byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

// resync discards exactly one byte — the one at anchor — and restarts
// scanning at anchor+1. The ring's rd is moved up to the new anchor so
// the discarded byte cannot be re-examined, but bytes between the old
// anchor+1 and forward remain in the ring and are re-scanned from
// ADDR, continuing within the same Feed call.
func (p *Parser) resync(rx *ring.Ring[byte]) {
	newAnchor := p.anchor + 1
	rx.SetRD(newAnchor)
	p.anchor = newAnchor
	p.forward = newAnchor
	p.state = stateAddr
}

// flush accepts the frame currently spanning [anchor, forward): the
// ring's rd advances past it and the next frame starts scanning from
// there.
func (p *Parser) flush(rx *ring.Ring[byte]) {
	rx.SetRD(p.forward)
	p.anchor = p.forward
	p.state = stateAddr
}
