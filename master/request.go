package master

import (
	"errors"

	"github.com/loamlabs/rtucore/rtu"
)

// MaxReadRegisters and MaxWriteRegisters bound a single PDU's register
// count, per the standard Modbus RTU read-holding-registers and
// write-multiple-registers limits.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

var (
	// ErrInvalidRequest is returned by Submit when a request fails
	// validation: an unsupported function code, a register count out
	// of range, a zero timeout, or a write request whose WriteData
	// length does not match RegCount.
	ErrInvalidRequest = errors.New("master: invalid request")

	// ErrNoFreeSlot is returned by Submit when every request slot in
	// the engine's pool is already in use.
	ErrNoFreeSlot = errors.New("master: no free request slot")

	// ErrFull is returned by Submit when the pending-request FIFO has
	// no room, even though a slot was free (should not happen given
	// the FIFO and pool share the same capacity, but is checked rather
	// than assumed).
	ErrFull = errors.New("master: pending request queue full")

	// ErrNilTransport is returned by NewEngine when t is nil.
	ErrNilTransport = errors.New("master: transport is nil")

	// ErrTransportInit is returned by NewEngine when t.Init() reports
	// failure.
	ErrTransportInit = errors.New("master: transport init failed")

	// ErrClosed is returned by Submit once Destroy has been called.
	ErrClosed = errors.New("master: engine destroyed")
)

// Response is passed to a Request's OnResponse callback exactly once:
// either with data from a successful exchange, an exception code from
// the slave, or TimedOut set if no valid response arrived within
// TimeoutMs across all permitted attempts.
type Response struct {
	Data     []byte
	IsExc    bool
	Exc      rtu.Exception
	TimedOut bool
}

// Request describes one master-initiated exchange: either a read of
// RegCount holding registers starting at RegAddr, or a write of
// WriteData to that range.
type Request struct {
	SlaveAddr byte
	Function  rtu.Function
	RegAddr   uint16
	RegCount  uint16

	// WriteData holds the register values to write. Required and
	// validated against RegCount when Function is
	// rtu.WriteMultipleRegisters; ignored otherwise.
	WriteData []uint16

	// TimeoutMs is the per-attempt response deadline. Must be nonzero.
	TimeoutMs uint32

	// OnResponse is called exactly once when the request is resolved,
	// successfully or by timeout. May be nil, for a read or a write,
	// when the caller does not care about the result ("fire and
	// forget"), per original_source's resp == NULL convention.
	OnResponse func(Response)
}

func (r *Request) valid() bool {
	if r.TimeoutMs == 0 {
		return false
	}
	switch r.Function {
	case rtu.ReadHoldingRegisters:
		return r.RegCount > 0 && r.RegCount <= MaxReadRegisters
	case rtu.WriteMultipleRegisters:
		return r.RegCount > 0 && r.RegCount <= MaxWriteRegisters && len(r.WriteData) == int(r.RegCount)
	default:
		return false
	}
}

type slot struct {
	req       Request
	started   bool
	elapsedMs uint32
	attempts  uint8
}
