// Package serialrs485 implements transport.Transport over a real
// serial port via go.bug.st/serial, the library the teacher's own
// rtu_usb example program uses to talk to hardware. It adds the
// RS485 direction-control knobs ffutop-modbus-gateway's RTUClientHandler.RS485
// exposes for the same physical problem: a half-duplex transceiver
// whose driver-enable pin must be asserted some microseconds before
// the first bit goes out and held until after the last bit has left
// the wire, timing no generic RS485 ioctl can get exactly right for
// every transceiver.
package serialrs485

import (
	"time"

	"go.bug.st/serial"

	"github.com/loamlabs/rtucore/schedule"
	"github.com/loamlabs/rtucore/transport"
)

// Config is the RS485 direction-control configuration, named after
// ffutop-modbus-gateway's RS485 config block.
type Config struct {
	// Enabled toggles RTS-based direction control entirely. When
	// false, DirCtrl is a no-op and the transport behaves like a
	// plain RS232/USB link.
	Enabled bool

	// DelayRtsBeforeSend is how long to wait, after asserting RTS for
	// transmit, before the first byte is written to the port.
	DelayRtsBeforeSend time.Duration

	// DelayRtsAfterSend is how long to wait, after the last byte is
	// accepted by the OS write call, before de-asserting RTS back to
	// its receive level. Scheduled via the Scheduler passed to Open
	// rather than blocking DirCtrl, so the caller's poll loop is never
	// held up waiting for the transceiver to finish shifting out the
	// last bit.
	DelayRtsAfterSend time.Duration

	// RtsHighDuringSend is the RTS level asserted for transmit.
	RtsHighDuringSend bool

	// RtsHighAfterSend is the RTS level restored once
	// DelayRtsAfterSend has elapsed.
	RtsHighAfterSend bool

	// RxDuringTx, when true, skips switching RTS at all on transmit —
	// the transceiver (or a wired-OR bus) tolerates simultaneous
	// RX/TX and direction switching would only add latency.
	RxDuringTx bool
}

// Transport is a transport.Transport backed by an open serial.Port.
// Read is configured non-blocking at Open (a zero read timeout, which
// go.bug.st/serial documents as "return immediately with whatever is
// available").
type Transport struct {
	port  serial.Port
	cfg   Config
	sched *schedule.Scheduler
}

// Open opens path with mode, wraps it as a Transport, and arms it for
// non-blocking reads. sched is used to schedule the RTS de-assert
// after DelayRtsAfterSend elapses when rs485.Enabled — pass the same
// Scheduler the caller drives the protocol engine's Poll from, so the
// de-assert fires on the same tick source.
func Open(path string, mode *serial.Mode, rs485 Config, sched *schedule.Scheduler) (*Transport, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(0); err != nil {
		port.Close()
		return nil, err
	}
	t := &Transport{port: port, cfg: rs485, sched: sched}
	if rs485.Enabled {
		port.SetRTS(rs485.RtsHighAfterSend)
	}
	return t, nil
}

// Init satisfies transport.Transport. The port is already open by the
// time Open returns, so this always reports success.
func (t *Transport) Init() bool { return true }

// Read returns whatever bytes are currently buffered by the OS,
// never blocking thanks to the zero read timeout set in Open.
func (t *Transport) Read(dst []byte) int {
	n, err := t.port.Read(dst)
	if err != nil {
		return 0
	}
	return n
}

// Write hands src to the OS write call. go.bug.st/serial's Write can
// itself block briefly on a full OS send buffer; for a half-duplex
// link at typical Modbus baud rates this is not the caller-owns-timing
// violation it would be on a saturated link, and is the same tradeoff
// soypat-peamodbus's examples/rtu_usb accepts by writing directly to
// the port.
func (t *Transport) Write(src []byte) int {
	n, err := t.port.Write(src)
	if err != nil {
		return 0
	}
	return n
}

// DirCtrl switches RTS for half-duplex direction control when
// rs485.Enabled. A switch to TxOnly blocks for DelayRtsBeforeSend so
// the transceiver has settled before the engine's very next call
// writes the frame; a switch to RxOnly schedules the de-assert
// DelayRtsAfterSend in the future via the Scheduler rather than
// blocking, so the poll loop returns immediately after the write.
func (t *Transport) DirCtrl(dir transport.Direction) {
	if !t.cfg.Enabled || t.cfg.RxDuringTx {
		return
	}
	switch dir {
	case transport.TxOnly:
		t.port.SetRTS(t.cfg.RtsHighDuringSend)
		if t.cfg.DelayRtsBeforeSend > 0 {
			time.Sleep(t.cfg.DelayRtsBeforeSend)
		}
	case transport.RxOnly:
		level := t.cfg.RtsHighAfterSend
		if t.cfg.DelayRtsAfterSend <= 0 || t.sched == nil {
			t.port.SetRTS(level)
			return
		}
		t.sched.After(uint32(t.cfg.DelayRtsAfterSend.Milliseconds()), func() {
			t.port.SetRTS(level)
		})
	}
}

// Close releases the underlying port.
func (t *Transport) Close() error { return t.port.Close() }
