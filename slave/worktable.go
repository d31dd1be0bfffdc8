package slave

import (
	"errors"

	"github.com/loamlabs/rtucore/rtu"
)

// ErrOverlappingRange is returned by Engine.AddWork when the new
// range overlaps one already registered.
var ErrOverlappingRange = errors.New("slave: register range overlaps an existing work entry")

// ErrEmptyRange is returned by Engine.AddWork when count is zero.
var ErrEmptyRange = errors.New("slave: register range must cover at least one register")

// WorkHandler services one request against the register range it is
// registered for. For a read request it must fill regs (length
// regCount) with the values to return; for a write request regs holds
// the values the master sent, decoded in order starting at regAddr.
// Returning a nonzero rtu.Exception aborts the request with that
// exception code; zero means success.
type WorkHandler func(fc rtu.Function, regAddr, regCount uint16, regs []uint16) rtu.Exception

// WorkEntry is one non-overlapping range of the slave's register
// space and the handler that services requests entirely contained
// within it.
type WorkEntry struct {
	RegStart uint16
	RegCount uint16
	Handler  WorkHandler
}

func (w WorkEntry) end() uint32 { return uint32(w.RegStart) + uint32(w.RegCount) }

// contains reports whether the half-open range [addr, addr+count)
// fits entirely inside w.
func (w WorkEntry) contains(addr, count uint16) bool {
	lo := uint32(addr)
	hi := uint32(addr) + uint32(count)
	return lo >= uint32(w.RegStart) && hi <= w.end()
}

func (w WorkEntry) overlaps(o WorkEntry) bool {
	return uint32(w.RegStart) < o.end() && uint32(o.RegStart) < w.end()
}
