// Package slave implements the Modbus RTU slave role: receiving
// read-holding-registers and write-multiple-registers requests
// addressed to a fixed slave address, dispatching them to a
// non-overlapping table of register-range handlers, and framing the
// success or exception response.
package slave

import (
	"errors"
	"log/slog"

	"github.com/loamlabs/rtucore/crc"
	"github.com/loamlabs/rtucore/ring"
	"github.com/loamlabs/rtucore/rtu"
	"github.com/loamlabs/rtucore/transport"
)

// ErrNilTransport is returned by NewEngine when t is nil.
var ErrNilTransport = errors.New("slave: transport is nil")

// ErrTransportInit is returned by NewEngine when t.Init() reports
// failure.
var ErrTransportInit = errors.New("slave: transport init failed")

// rxBufSize mirrors master's margin: twice the largest PDU this core
// exchanges.
const rxBufSize = 512

// Engine drives the slave side of a Modbus RTU link over a single
// transport, answering only requests addressed to Addr. The zero
// value is not usable; use NewEngine.
type Engine struct {
	t      transport.Transport
	addr   byte
	parser *rtu.Parser
	rx     *ring.Ring[byte]
	work   []WorkEntry
	logger *slog.Logger
	closed bool
}

// NewEngine constructs an Engine bound to t, answering at addr. logger
// may be nil, in which case slog.Default() is used. Returns
// ErrNilTransport if t is nil and ErrTransportInit if t.Init()
// reports failure — no Engine is constructed in either case, matching
// "init(transport, own_addr, work_table, work_count) -> handle | null".
func NewEngine(t transport.Transport, addr byte, logger *slog.Logger) (*Engine, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !t.Init() {
		return nil, ErrTransportInit
	}
	rx, err := ring.New[byte](make([]byte, rxBufSize))
	if err != nil {
		panic(err)
	}
	return &Engine{
		t:      t,
		addr:   addr,
		parser: rtu.NewParser(rtu.RoleSlave),
		rx:     rx,
		logger: logger,
	}, nil
}

// Destroy releases the engine's internal storage. The transport
// itself is left open; closing it remains the embedder's
// responsibility. Destroy is safe to call more than once.
func (e *Engine) Destroy() {
	if e.closed {
		return
	}
	e.closed = true
	e.rx.Destroy()
}

// AddWork registers a handler for the half-open register range
// [start, start+count). Returns ErrEmptyRange if count is zero or
// ErrOverlappingRange if the range overlaps one already registered.
func (e *Engine) AddWork(start, count uint16, h WorkHandler) error {
	if count == 0 {
		return ErrEmptyRange
	}
	entry := WorkEntry{RegStart: start, RegCount: count, Handler: h}
	for _, existing := range e.work {
		if entry.overlaps(existing) {
			return ErrOverlappingRange
		}
	}
	e.work = append(e.work, entry)
	return nil
}

// Poll drains whatever bytes the transport currently has buffered,
// and if a complete request addressed to Engine's address arrives,
// dispatches it through the work table and writes the response.
func (e *Engine) Poll() {
	if e.closed {
		return
	}
	var buf [256]byte
	n := e.t.Read(buf[:])
	if n == 0 {
		return
	}
	e.rx.Add(buf[:n])

	frame, ok := e.parser.Feed(e.rx, e.addr)
	if !ok {
		return
	}
	e.handle(frame)
}

func (e *Engine) handle(frame rtu.Frame) {
	entry, ok := e.findEntry(frame.RegAddr, frame.RegCount)
	if !ok {
		e.logger.Debug("slave: no work entry covers request",
			"reg_addr", frame.RegAddr, "reg_count", frame.RegCount)
		e.respondException(frame.Function, rtu.ExcIllegalDataAddress)
		return
	}

	switch frame.Function {
	case rtu.ReadHoldingRegisters:
		regs := make([]uint16, frame.RegCount)
		if exc := entry.Handler(frame.Function, frame.RegAddr, frame.RegCount, regs); exc != 0 {
			e.respondException(frame.Function, exc)
			return
		}
		e.respondRead(regs)

	case rtu.WriteMultipleRegisters:
		regs := decodeRegisters(frame.Data[:frame.DataLen])
		if exc := entry.Handler(frame.Function, frame.RegAddr, frame.RegCount, regs); exc != 0 {
			e.respondException(frame.Function, exc)
			return
		}
		e.respondWrite(frame.RegAddr, frame.RegCount)
	}
}

func (e *Engine) findEntry(addr, count uint16) (WorkEntry, bool) {
	for _, w := range e.work {
		if w.contains(addr, count) {
			return w, true
		}
	}
	return WorkEntry{}, false
}

func decodeRegisters(data []byte) []uint16 {
	regs := make([]uint16, len(data)/2)
	for i := range regs {
		regs[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return regs
}

func (e *Engine) respondRead(regs []uint16) {
	var pdu [256]byte
	n := 0
	pdu[n] = e.addr
	n++
	pdu[n] = byte(rtu.ReadHoldingRegisters)
	n++
	byteCount := len(regs) * 2
	pdu[n] = byte(byteCount)
	n++
	for _, v := range regs {
		pdu[n] = byte(v >> 8)
		pdu[n+1] = byte(v)
		n += 2
	}
	e.send(pdu[:n])
}

func (e *Engine) respondWrite(addr, count uint16) {
	var pdu [8]byte
	pdu[0] = e.addr
	pdu[1] = byte(rtu.WriteMultipleRegisters)
	pdu[2] = byte(addr >> 8)
	pdu[3] = byte(addr)
	pdu[4] = byte(count >> 8)
	pdu[5] = byte(count)
	e.send(pdu[:6])
}

func (e *Engine) respondException(fc rtu.Function, exc rtu.Exception) {
	var pdu [3]byte
	pdu[0] = e.addr
	pdu[1] = byte(fc) | 0x80
	pdu[2] = byte(exc)
	e.send(pdu[:])
}

func (e *Engine) send(pdu []byte) {
	var out [256 + 2]byte
	n := copy(out[:], pdu)
	c := crc.TableChecksum(out[:n])
	lo, hi := crc.Split(c)
	out[n] = lo
	out[n+1] = hi
	n += 2

	e.t.DirCtrl(transport.TxOnly)
	e.t.Write(out[:n])
	e.t.DirCtrl(transport.RxOnly)
}
