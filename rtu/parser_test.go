package rtu

import (
	"testing"

	"github.com/loamlabs/rtucore/crc"
	"github.com/loamlabs/rtucore/ring"
)

func newRX(t *testing.T, cap int) *ring.Ring[byte] {
	t.Helper()
	r, err := ring.New(make([]byte, cap))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// Scenario 1 from the wire-level test vectors: a master reads two
// holding registers from slave address 0x06.
func TestMasterParsesReadResponse(t *testing.T) {
	rx := newRX(t, 32)
	resp := []byte{0x06, 0x03, 0x04, 0x00, 0x11, 0x00, 0x22, 0xDA, 0x2B}
	rx.Add(resp)

	p := NewParser(RoleMaster)
	frame, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected a frame")
	}
	if frame.Function != ReadHoldingRegisters || frame.IsExc {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.DataLen != 4 {
		t.Fatalf("expected 4 data bytes, got %d", frame.DataLen)
	}
	want := []byte{0x00, 0x11, 0x00, 0x22}
	for i, b := range want {
		if frame.Data[i] != b {
			t.Fatalf("data[%d] = %02X, want %02X", i, frame.Data[i], b)
		}
	}
}

func TestSlaveParsesReadRequest(t *testing.T) {
	rx := newRX(t, 32)
	req := []byte{0x06, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC5, 0xBE}
	rx.Add(req)

	p := NewParser(RoleSlave)
	frame, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected a frame")
	}
	if frame.RegAddr != 0x0000 || frame.RegCount != 0x0002 {
		t.Fatalf("unexpected request fields %+v", frame)
	}
}

func TestSlaveParsesWriteRequestWithData(t *testing.T) {
	rx := newRX(t, 32)
	// 06 10 00 10 00 02 04 00 AA 00 BB <crc>
	pdu := []byte{0x06, 0x10, 0x00, 0x10, 0x00, 0x02, 0x04, 0x00, 0xAA, 0x00, 0xBB}
	frame, _ := buildFrameWithCRC(pdu)
	rx.Add(frame)

	p := NewParser(RoleSlave)
	f, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.RegAddr != 0x0010 || f.RegCount != 0x0002 {
		t.Fatalf("unexpected reg fields %+v", f)
	}
	if f.DataLen != 4 || f.Data[0] != 0x00 || f.Data[1] != 0xAA || f.Data[2] != 0x00 || f.Data[3] != 0xBB {
		t.Fatalf("unexpected write data %+v len=%d", f.Data[:f.DataLen], f.DataLen)
	}
}

func TestMasterParsesWriteEchoResponse(t *testing.T) {
	rx := newRX(t, 32)
	pdu := []byte{0x06, 0x10, 0x00, 0x10, 0x00, 0x02}
	frame, _ := buildFrameWithCRC(pdu)
	rx.Add(frame)

	p := NewParser(RoleMaster)
	f, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.RegAddr != 0x0010 || f.RegCount != 0x0002 {
		t.Fatalf("unexpected echoed fields %+v", f)
	}
}

func TestExceptionResponseParses(t *testing.T) {
	rx := newRX(t, 32)
	pdu := []byte{0x06, 0x83, 0x02}
	frame, _ := buildFrameWithCRC(pdu)
	rx.Add(frame)

	p := NewParser(RoleMaster)
	f, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected a frame")
	}
	if !f.IsExc || f.Exc != ExcIllegalDataAddress {
		t.Fatalf("unexpected exception frame %+v", f)
	}
}

// A garbage byte ahead of a valid frame must be discarded one byte at
// a time, not skipped wholesale, and the valid frame behind it must
// still be found.
func TestResyncDiscardsOneByteAtATime(t *testing.T) {
	rx := newRX(t, 64)
	pdu := []byte{0x06, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC5, 0xBE}
	garbage := append([]byte{0xFF, 0xEE}, pdu...)
	rx.Add(garbage)

	p := NewParser(RoleSlave)
	f, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected the valid frame behind the garbage to be found")
	}
	if f.RegAddr != 0 || f.RegCount != 2 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestCorruptCRCIsRejectedAndDoesNotDesyncFollowingFrame(t *testing.T) {
	rx := newRX(t, 64)
	bad := []byte{0x06, 0x03, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00} // wrong crc
	good := []byte{0x06, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC5, 0xBE}
	buf := append(append([]byte{}, bad...), good...)
	rx.Add(buf)

	p := NewParser(RoleSlave)
	f, ok := p.Feed(rx, 0x06)
	if !ok {
		t.Fatal("expected to eventually find the valid frame")
	}
	if f.RegCount != 2 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestWrongAddressIsIgnored(t *testing.T) {
	rx := newRX(t, 32)
	pdu := []byte{0x09, 0x03, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00}
	rx.Add(pdu)

	p := NewParser(RoleSlave)
	_, ok := p.Feed(rx, 0x06)
	if ok {
		t.Fatal("expected no frame for a foreign slave address")
	}
}

func TestFeedReturnsFalseOnPartialFrame(t *testing.T) {
	rx := newRX(t, 32)
	rx.Add([]byte{0x06, 0x03, 0x00})

	p := NewParser(RoleSlave)
	_, ok := p.Feed(rx, 0x06)
	if ok {
		t.Fatal("expected no frame from a partial PDU")
	}
}

func buildFrameWithCRC(pdu []byte) ([]byte, uint16) {
	c := crc.Checksum(pdu)
	lo, hi := crc.Split(c)
	return append(append([]byte{}, pdu...), lo, hi), c
}
