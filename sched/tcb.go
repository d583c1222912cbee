package sched

import "fmt"
import "time"
import "unsafe"

import "github.com/dnikolaidis2/disasteros/accnt"
import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/util"

type Tstate_t int

const (
	INIT Tstate_t = iota
	READY
	RUNNING
	STOPPED
	EXITED
)

func (s Tstate_t) String() string {
	switch s {
	case INIT:
		return "INIT"
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case STOPPED:
		return "STOPPED"
	case EXITED:
		return "EXITED"
	}
	return fmt.Sprintf("Tstate_t(%d)", int(s))
}

// CTX_CLEAN: the saved context is queued or has never run. CTX_DIRTY: the
// thread is executing (or switching away) and is not yet queued.
type Phase_t int

const (
	CTX_CLEAN Phase_t = iota
	CTX_DIRTY
)

type Ttype_t int

const (
	NORMAL_THREAD Ttype_t = iota
	IDLE_THREAD
)

// which scheduler structure holds a thread. a thread is in at most one.
type Qmember_t int

const (
	QNONE Qmember_t = iota
	QREADY
	QTIMEOUT
)

// why a thread gives up its core; steers the priority adjustment.
type Cause_t int

const (
	// the quantum expired
	SCHED_QUANTUM Cause_t = iota
	// waiting for I/O
	SCHED_IO
	// contention on a mutex
	SCHED_MUTEX
	// sleeping at a pipe or socket
	SCHED_PIPE
	// polling
	SCHED_POLL
	// the idle thread
	SCHED_IDLE
	// user code called yield
	SCHED_USER
)

var causestr = [...]string{"QUANTUM", "IO", "MUTEX", "PIPE", "POLL", "IDLE",
	"USER"}

func (c Cause_t) String() string {
	if c >= 0 && int(c) < len(causestr) {
		return causestr[c]
	}
	return fmt.Sprintf("Cause_t(%d)", int(c))
}

// the thread control block
type Tcb_t struct {
	Tid defs.Tid_t
	// the owning process; opaque to the scheduler
	Owner interface{}
	Type  Ttype_t

	s *Sched_t

	// the following fields are protected by the scheduler lock
	state    Tstate_t
	phase    Phase_t
	priority int
	// priority to restore once mutex contention is over
	prevprio   int
	contention bool
	// absolute deadline on the scheduler clock or NO_TIMEOUT. a deadline
	// implies membership in the timeout list.
	wakeup time.Duration
	member Qmember_t
	level  int
	// links the two halves of a context switch
	next *Tcb_t
	prev *Tcb_t
	// the core running this thread; set by the core that selects it
	core *Ccb_t

	ctx ctx_t
	fn  func()

	// time spent on a core
	Atime  accnt.Accnt_t
	ontime int
}

const guardsz = 64
const guardpat = 0xa5

// the control pages of a thread block; the stack follows them.
var ctlsz = util.Roundup(int(unsafe.Sizeof(Tcb_t{})), defs.PGSIZE)

// a thread's control pages and stack are one page-multiple block. the guard
// sits at the end of the stack that borders the control pages, so an
// overrun is caught when the thread is released instead of silently
// corrupting another thread.
func (c *ctx_t) ctx_init(stacksz int) {
	stacksz = util.Roundup(stacksz, defs.PGSIZE)
	c.resume = make(chan struct{}, 1)
	c.fresh = true
	c.blk = make([]uint8, ctlsz+stacksz)
	c.stack = c.blk[ctlsz:]
	for i := 0; i < guardsz; i++ {
		c.stack[i] = guardpat
	}
}

// returns false if the stack guard was overwritten.
func (c *ctx_t) ctx_release() bool {
	ok := true
	for i := 0; i < guardsz; i++ {
		if c.stack[i] != guardpat {
			ok = false
			break
		}
	}
	c.blk = nil
	c.stack = nil
	return ok
}

func (c *ctx_t) Blksz() int {
	return len(c.blk)
}

// entry trampoline of every normal thread
func thread_start(t *Tcb_t) {
	t.s.gain(t, true)
	t.fn()
	kassert(false, "thread function returned", t)
}

func (t *Tcb_t) Sched() *Sched_t {
	return t.s
}

func (t *Tcb_t) Yield(cause Cause_t) {
	t.s.Yield(t, cause)
}

func (t *Tcb_t) Sleep_releasing(state Tstate_t, mx Unlocker_i, cause Cause_t,
	timeout time.Duration) {
	t.s.Sleep_releasing(t, state, mx, cause, timeout)
}

func (t *Tcb_t) Wakeup() bool {
	return t.s.Wakeup(t)
}

func (t *Tcb_t) Preempt_point() bool {
	return t.s.Preempt_point(t)
}

func (t *Tcb_t) String() string {
	return fmt.Sprintf("tcb<%d>", t.Tid)
}
