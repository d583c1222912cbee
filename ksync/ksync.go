// Package ksync implements the kernel's blocking locks and condition
// variables on top of the scheduler's sleep/wakeup.
package ksync

import "sync"
import "time"

import log "github.com/sirupsen/logrus"

import "github.com/dnikolaidis2/disasteros/caller"
import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/sched"

func kpanic(msg string, cur *sched.Tcb_t) {
	f := log.Fields{"path": caller.Callers(2)}
	if cur != nil {
		f["tid"] = cur.Tid
	}
	log.WithFields(f).Error(msg)
	panic(msg)
}

// a sleeping mutex. the zero value is unlocked. waiters are served in
// arrival order and ownership passes directly to the woken waiter. a nil
// thread may take an uncontended Mutex_t during boot.
type Mutex_t struct {
	// leaf lock guarding the fields below
	guard   sync.Mutex
	locked  bool
	owner   *sched.Tcb_t
	waiters []*sched.Tcb_t
}

func (m *Mutex_t) Lock(cur *sched.Tcb_t) {
	m.guard.Lock()
	if !m.locked {
		m.locked = true
		m.owner = cur
		m.guard.Unlock()
		return
	}
	if cur == nil {
		m.guard.Unlock()
		kpanic("contended mutex outside a thread", cur)
	}
	if m.owner == cur {
		m.guard.Unlock()
		kpanic("mutex relock", cur)
	}
	m.waiters = append(m.waiters, cur)
	for m.owner != cur {
		cur.Sleep_releasing(sched.STOPPED, &m.guard, sched.SCHED_MUTEX,
			defs.NO_TIMEOUT)
		m.guard.Lock()
	}
	m.guard.Unlock()
}

func (m *Mutex_t) Trylock(cur *sched.Tcb_t) bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	m.owner = cur
	return true
}

func (m *Mutex_t) Unlock() {
	m.guard.Lock()
	if !m.locked {
		m.guard.Unlock()
		kpanic("unlock of an unlocked mutex", nil)
	}
	var w *sched.Tcb_t
	if len(m.waiters) > 0 {
		w = m.waiters[0]
		m.waiters[0] = nil
		m.waiters = m.waiters[1:]
		m.owner = w
	} else {
		m.locked = false
		m.owner = nil
	}
	m.guard.Unlock()
	if w != nil {
		w.Wakeup()
	}
}

func (m *Mutex_t) Held(cur *sched.Tcb_t) bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.locked && m.owner == cur
}

type cwaiter_t struct {
	t        *sched.Tcb_t
	signaled bool
}

// a condition variable; always used with a Mutex_t. the zero value is
// ready to use.
type Cond_t struct {
	guard   sync.Mutex
	waiters []*cwaiter_t
}

// releases mx, sleeps until signaled and reacquires mx.
func (c *Cond_t) Wait(cur *sched.Tcb_t, mx *Mutex_t, cause sched.Cause_t) {
	c.Timedwait(cur, mx, cause, defs.NO_TIMEOUT)
}

// like Wait, but gives up after timeout. returns false if the wait timed
// out. mx is held again on return either way.
func (c *Cond_t) Timedwait(cur *sched.Tcb_t, mx *Mutex_t, cause sched.Cause_t,
	timeout time.Duration) bool {
	w := &cwaiter_t{t: cur}
	c.guard.Lock()
	c.waiters = append(c.waiters, w)
	mx.Unlock()
	cur.Sleep_releasing(sched.STOPPED, &c.guard, cause, timeout)

	c.guard.Lock()
	ok := w.signaled
	if !ok {
		c.remove(w)
	}
	c.guard.Unlock()
	mx.Lock(cur)
	return ok
}

// must hold guard
func (c *Cond_t) remove(w *cwaiter_t) {
	for i, o := range c.waiters {
		if o == w {
			copy(c.waiters[i:], c.waiters[i+1:])
			c.waiters[len(c.waiters)-1] = nil
			c.waiters = c.waiters[:len(c.waiters)-1]
			return
		}
	}
}

// must hold guard. a waiter that cannot be woken has already timed out.
func (c *Cond_t) wake_one() bool {
	w := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	if w.t.Wakeup() {
		w.signaled = true
		return true
	}
	return false
}

// wakes at most one waiter
func (c *Cond_t) Signal() {
	c.guard.Lock()
	for len(c.waiters) > 0 {
		if c.wake_one() {
			break
		}
	}
	c.guard.Unlock()
}

func (c *Cond_t) Broadcast() {
	c.guard.Lock()
	for len(c.waiters) > 0 {
		c.wake_one()
	}
	c.guard.Unlock()
}

func (c *Cond_t) Nwaiters() int {
	c.guard.Lock()
	defer c.guard.Unlock()
	return len(c.waiters)
}
