// Package pipe implements blocking byte pipes on the kernel's mutex and
// condition variables.
package pipe

import "sync/atomic"

import log "github.com/sirupsen/logrus"

import "github.com/dnikolaidis2/disasteros/circbuf"
import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/fdops"
import "github.com/dnikolaidis2/disasteros/ksync"
import "github.com/dnikolaidis2/disasteros/sched"
import "github.com/dnikolaidis2/disasteros/stats"

type pipestats_t struct {
	Nread   stats.Counter_t
	Nwrite  stats.Counter_t
	Nrsleep stats.Counter_t
	Nwsleep stats.Counter_t
}

var Stats pipestats_t

type Pipe_t struct {
	mx ksync.Mutex_t
	cb circbuf.Circbuf_t
	// buffered data available or no writers left
	rcv ksync.Cond_t
	// space available or no readers left
	snd ksync.Cond_t
	// open descriptors per end. Reopen increments them without mx since the
	// end being copied is open; decrements hold mx.
	readers int32
	writers int32
}

type Pipefops_t struct {
	pipe   *Pipe_t
	writer bool
}

var _ fdops.Fdops_i = &Pipefops_t{}

// returns the read end and the write end of a new pipe with a buffer of sz
// bytes.
func Mkpipe(sz int) (*Pipefops_t, *Pipefops_t) {
	p := &Pipe_t{}
	p.cb.Cb_init(sz)
	p.readers = 1
	p.writers = 1
	return &Pipefops_t{pipe: p}, &Pipefops_t{pipe: p, writer: true}
}

func (pf *Pipefops_t) Read(cur *sched.Tcb_t, dst []uint8) (int, defs.Err_t) {
	if pf.writer {
		return 0, -defs.EBADF
	}
	p := pf.pipe
	p.mx.Lock(cur)
	defer p.mx.Unlock()
	for p.cb.Empty() && atomic.LoadInt32(&p.writers) > 0 {
		Stats.Nrsleep.Inc()
		p.rcv.Wait(cur, &p.mx, sched.SCHED_PIPE)
	}
	// end of data
	if p.cb.Empty() {
		return 0, 0
	}
	n := p.cb.Copyout(dst)
	Stats.Nread.Inc()
	p.snd.Broadcast()
	return n, 0
}

// blocks until all of src is buffered or the read end is closed.
func (pf *Pipefops_t) Write(cur *sched.Tcb_t, src []uint8) (int, defs.Err_t) {
	if !pf.writer {
		return 0, -defs.EBADF
	}
	p := pf.pipe
	p.mx.Lock(cur)
	defer p.mx.Unlock()
	c := 0
	for c < len(src) {
		for p.cb.Full() && atomic.LoadInt32(&p.readers) > 0 {
			Stats.Nwsleep.Inc()
			p.snd.Wait(cur, &p.mx, sched.SCHED_PIPE)
		}
		if atomic.LoadInt32(&p.readers) == 0 {
			if c > 0 {
				break
			}
			return 0, -defs.EPIPE
		}
		c += p.cb.Copyin(src[c:])
		p.rcv.Broadcast()
	}
	Stats.Nwrite.Inc()
	return c, 0
}

func (pf *Pipefops_t) Reopen() defs.Err_t {
	if pf.writer {
		atomic.AddInt32(&pf.pipe.writers, 1)
	} else {
		atomic.AddInt32(&pf.pipe.readers, 1)
	}
	return 0
}

func (pf *Pipefops_t) Close(cur *sched.Tcb_t) defs.Err_t {
	p := pf.pipe
	p.mx.Lock(cur)
	defer p.mx.Unlock()
	var left int32
	if pf.writer {
		left = atomic.AddInt32(&p.writers, -1)
		if left == 0 {
			p.rcv.Broadcast()
		}
	} else {
		left = atomic.AddInt32(&p.readers, -1)
		if left == 0 {
			p.snd.Broadcast()
		}
	}
	if left < 0 {
		log.WithFields(log.Fields{"writer": pf.writer}).Error("pipe end closed twice")
		panic("pipe end closed twice")
	}
	if atomic.LoadInt32(&p.readers) == 0 && atomic.LoadInt32(&p.writers) == 0 {
		p.cb.Cb_release()
	}
	return 0
}
