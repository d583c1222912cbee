package fdops

import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/sched"

// the operations behind a file descriptor. cur is the calling thread; an
// implementation may block it.
type Fdops_i interface {
	Close(cur *sched.Tcb_t) defs.Err_t
	Read(cur *sched.Tcb_t, dst []uint8) (int, defs.Err_t)
	// another descriptor now refers to the same object. it must not block.
	Reopen() defs.Err_t
	Write(cur *sched.Tcb_t, src []uint8) (int, defs.Err_t)
}
