package sched

import "runtime"
import "sync/atomic"
import "time"

// the execution context. the goroutine backing a thread runs only while the
// thread holds a core; a core is handed over by sending on resume.
type ctx_t struct {
	resume chan struct{}
	// no goroutine exists until the first switch to this context
	fresh bool
	blk   []uint8
	stack []uint8
}

// swtch saves the running context in from and resumes to. it returns once
// from is switched back in; an exiting from never returns.
func swtch(from, to *Tcb_t, exiting bool) {
	if to.ctx.fresh {
		to.ctx.fresh = false
		go thread_start(to)
	} else {
		to.ctx.resume <- struct{}{}
	}
	if exiting {
		runtime.Goexit()
	}
	<-from.ctx.resume
}

// a monotonic clock
type Clock_i interface {
	Now() time.Duration
}

type monoclock_t struct {
	boot time.Time
}

func Mkclock() Clock_i {
	return &monoclock_t{boot: time.Now()}
}

func (m *monoclock_t) Now() time.Duration {
	return time.Since(m.boot)
}

// the core control block
type Ccb_t struct {
	Id int
	// protected by the scheduler lock
	current *Tcb_t
	idle    Tcb_t

	// preemption enabled; only the thread holding the core touches it
	intr  bool
	timer *time.Timer
	tgen  uint64
	alarm int32
	// halt/restart; buffered so a restart before the halt is not lost
	wake chan struct{}
}

func (c *Ccb_t) preempt_off() bool {
	old := c.intr
	c.intr = false
	return old
}

func (c *Ccb_t) preempt_on() {
	c.intr = true
}

// arm the one-shot alarm, replacing any armed one
func (c *Ccb_t) set_timer(d time.Duration) {
	c.cancel_timer()
	gen := c.tgen
	c.timer = time.AfterFunc(d, func() {
		if atomic.LoadUint64(&c.tgen) == gen {
			c.raise_alarm()
		}
	})
}

func (c *Ccb_t) cancel_timer() {
	atomic.AddUint64(&c.tgen, 1)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	atomic.StoreInt32(&c.alarm, 0)
}

func (c *Ccb_t) raise_alarm() {
	atomic.StoreInt32(&c.alarm, 1)
	c.restart()
}

// consumes a pending alarm
func (c *Ccb_t) take_alarm() bool {
	return atomic.SwapInt32(&c.alarm, 0) == 1
}

// blocks until the alarm fires or another core restarts this one
func (c *Ccb_t) halt() {
	<-c.wake
}

// the inter-core interrupt
func (c *Ccb_t) restart() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
