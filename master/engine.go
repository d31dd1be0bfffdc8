// Package master implements the Modbus RTU master role: submitting
// read-holding-registers and write-multiple-registers requests,
// serializing them to the wire, matching responses against the
// pending request, and retrying or reporting a timeout when a slave
// does not answer in time.
//
// Exactly one request is ever in flight at a time — Engine enforces
// this with a single binary send permit rather than per-attempt
// bookkeeping, so a request holds the bus from its first transmission
// through every retry until it is finally resolved by a response or
// by exhausting its retries.
package master

import (
	"log/slog"

	"github.com/loamlabs/rtucore/crc"
	"github.com/loamlabs/rtucore/internal/slotpool"
	"github.com/loamlabs/rtucore/ring"
	"github.com/loamlabs/rtucore/rtu"
	"github.com/loamlabs/rtucore/transport"
)

// rxBufSize is the RX ring's capacity in bytes: twice the largest PDU
// this core ever exchanges, the same margin original_source's
// RX_BUFF_SIZE gives its receive queue.
const rxBufSize = 512

// Engine drives the master side of a Modbus RTU link over a single
// transport. The zero value is not usable; use NewEngine.
type Engine struct {
	t      transport.Transport
	parser *rtu.Parser
	rx     *ring.Ring[byte]

	pool *slotpool.Pool[slot]
	fifo *ring.Ring[*slot]

	busy   bool
	closed bool

	repeats   uint8
	noRetries bool
	logger    *slog.Logger
}

// NewEngine constructs an Engine bound to t, applying opts over the
// package defaults (32 request slots, up to 3 transmission attempts per
// request, retries enabled).
// Returns ErrNilTransport if t is nil and ErrTransportInit if
// t.Init() reports failure — no Engine is constructed in either case,
// matching "init(transport, period_ms) -> handle | null".
// Panics if the resolved MaxRequests is not a power of two, matching
// ring.New's contract for the internal FIFO.
func NewEngine(t transport.Transport, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !t.Init() {
		return nil, ErrTransportInit
	}

	rx, err := ring.New[byte](make([]byte, rxBufSize))
	if err != nil {
		panic(err)
	}
	fifo, err := ring.New[*slot](make([]*slot, o.MaxRequests))
	if err != nil {
		panic(err)
	}

	return &Engine{
		t:         t,
		parser:    rtu.NewParser(rtu.RoleMaster),
		rx:        rx,
		pool:      slotpool.New[slot](o.MaxRequests),
		fifo:      fifo,
		repeats:   o.Repeats,
		noRetries: o.NoRetries,
		logger:    o.Logger,
	}, nil
}

// Destroy releases the engine's internal storage. Any request still
// queued or in flight is dropped without invoking its OnResponse
// callback, per the wire-level contract that destruction with
// requests pending drops them silently. The transport itself is left
// open; closing it remains the embedder's responsibility. Destroy is
// safe to call more than once.
func (e *Engine) Destroy() {
	if e.closed {
		return
	}
	e.closed = true
	e.rx.Destroy()
	e.fifo.Destroy()
	e.pool = nil
}

// Submit enqueues req. Returns ErrInvalidRequest if req fails
// validation (see Request.valid), ErrNoFreeSlot if the slot pool is
// exhausted, or ErrFull if the pending-request FIFO has no room.
func (e *Engine) Submit(req Request) error {
	if e.closed {
		return ErrClosed
	}
	if !req.valid() {
		return ErrInvalidRequest
	}
	s, ok := e.pool.Alloc()
	if !ok {
		return ErrNoFreeSlot
	}
	s.req = req
	// Copy the register values so the caller's slice need not outlive
	// the request.
	s.req.WriteData = append([]uint16(nil), req.WriteData...)
	if e.fifo.Add([]*slot{s}) != 1 {
		e.pool.Free(s)
		return ErrFull
	}
	return nil
}

// Pending returns how many requests are currently queued or in
// flight.
func (e *Engine) Pending() int {
	if e.closed {
		return 0
	}
	return e.pool.InUse()
}

// Poll drives one iteration of the master state machine: it drains
// whatever bytes the transport currently has buffered, matches a
// complete frame against the head-of-FIFO request if one arrives, and
// otherwise advances that request's retry/timeout bookkeeping by
// elapsedMs. Call it at a steady period — the request timeout clock
// is measured in calls to Poll, not wall-clock time, exactly as
// original_source's cur_ctr accumulation is measured in poll periods.
func (e *Engine) Poll(elapsedMs uint32) {
	if e.closed {
		return
	}
	e.read()
	e.write(elapsedMs)
}

func (e *Engine) read() {
	var buf [256]byte
	n := e.t.Read(buf[:])
	if n == 0 {
		return
	}
	e.rx.Add(buf[:n])

	head, ok := e.headSlot()
	if !ok {
		// Nothing pending to match a response against; drop whatever
		// arrived so the RX ring does not fill with orphan bytes.
		e.rx.Advance(e.rx.Occupancy())
		e.parser.Reset(e.rx.RD())
		return
	}

	frame, ok := e.parser.Feed(e.rx, head.req.SlaveAddr)
	if !ok {
		return
	}

	if !head.started {
		// A frame matching the head's address completed before any
		// request was ever transmitted on its behalf: a straggling
		// response to a prior, already-retired request that happened
		// to share the same slave address. The parser has already
		// consumed it from the ring via flush; just drop it rather
		// than dispatching it as this request's response.
		e.logger.Debug("master: discarding frame received before transmission",
			"slave_addr", head.req.SlaveAddr)
		return
	}

	e.popHead()
	e.busy = false
	e.dispatch(head, frame)
}

func (e *Engine) write(elapsedMs uint32) {
	head, ok := e.headSlot()
	if !ok {
		return
	}

	if !head.started {
		if e.busy {
			return
		}
		e.busy = true
		head.started = true
		head.elapsedMs = elapsedMs
		head.attempts = 1
		e.transmit(head)
		return
	}

	head.elapsedMs += elapsedMs
	if head.elapsedMs <= head.req.TimeoutMs {
		return
	}

	if e.noRetries || head.attempts >= e.repeats {
		e.logger.Warn("master: request timed out",
			"slave_addr", head.req.SlaveAddr, "attempts", head.attempts)
		e.popHead()
		e.busy = false
		if head.req.OnResponse != nil {
			head.req.OnResponse(Response{TimedOut: true})
		}
		e.pool.Free(head)
		return
	}

	head.elapsedMs = elapsedMs
	head.attempts++
	e.transmit(head)
}

func (e *Engine) headSlot() (*slot, bool) {
	var buf [1]*slot
	if e.fifo.Peek(buf[:]) != 1 {
		return nil, false
	}
	return buf[0], true
}

func (e *Engine) popHead() {
	var buf [1]*slot
	e.fifo.Get(buf[:])
}

func (e *Engine) dispatch(s *slot, frame rtu.Frame) {
	var resp Response
	if frame.IsExc {
		resp.IsExc = true
		resp.Exc = frame.Exc
		e.logger.Debug("master: exception response",
			"slave_addr", s.req.SlaveAddr, "exception", frame.Exc)
	} else {
		resp.Data = append([]byte(nil), frame.Data[:frame.DataLen]...)
	}
	if s.req.OnResponse != nil {
		s.req.OnResponse(resp)
	}
	e.pool.Free(s)
}

func (e *Engine) transmit(s *slot) {
	var pdu [256]byte
	n := 0
	pdu[n] = s.req.SlaveAddr
	n++
	pdu[n] = byte(s.req.Function)
	n++
	pdu[n] = byte(s.req.RegAddr >> 8)
	pdu[n+1] = byte(s.req.RegAddr)
	n += 2
	pdu[n] = byte(s.req.RegCount >> 8)
	pdu[n+1] = byte(s.req.RegCount)
	n += 2

	if s.req.Function == rtu.WriteMultipleRegisters {
		byteCount := len(s.req.WriteData) * 2
		pdu[n] = byte(byteCount)
		n++
		for _, v := range s.req.WriteData {
			pdu[n] = byte(v >> 8)
			pdu[n+1] = byte(v)
			n += 2
		}
	}

	c := crc.TableChecksum(pdu[:n])
	lo, hi := crc.Split(c)
	pdu[n] = lo
	pdu[n+1] = hi
	n += 2

	e.t.DirCtrl(transport.TxOnly)
	e.t.Write(pdu[:n])
	e.t.DirCtrl(transport.RxOnly)
}
