package sched

import "sort"
import "sync"
import "sync/atomic"
import "time"

import log "github.com/sirupsen/logrus"

import "github.com/dnikolaidis2/disasteros/caller"
import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/limits"
import "github.com/dnikolaidis2/disasteros/stats"

// a lock released by a sleeping thread. it must be a leaf lock: Unlock is
// called with the scheduler lock held.
type Unlocker_i interface {
	Unlock()
}

type Schedstats_t struct {
	Nspawn   stats.Counter_t
	Nrelease stats.Counter_t
	Nswitch  stats.Counter_t
	Nyield   stats.Counter_t
	Nboost   stats.Counter_t
	Ntimeout stats.Counter_t
	Nwakeup  stats.Counter_t
	Npreempt stats.Counter_t
	Nhalt    stats.Counter_t
}

// the scheduler context
type Sched_t struct {
	// the scheduler lock. protects the queues, the timeout list, the arena,
	// the timeslice counter, each core's current thread and the scheduling
	// fields of every Tcb_t.
	sync.Mutex
	queues [][]*Tcb_t
	// ascending by deadline; equal deadlines keep insertion order
	timeouts   []*Tcb_t
	arena      map[defs.Tid_t]*Tcb_t
	ntid       defs.Tid_t
	timeslices int
	cores      []*Ccb_t
	// normal threads not yet released
	active int64
	lim    *limits.Syslimit_t
	clock  Clock_i
	Stats  Schedstats_t
}

func Mksched(lim *limits.Syslimit_t, clk Clock_i) *Sched_t {
	if lim == nil {
		lim = limits.MkSysLimit()
	}
	if clk == nil {
		clk = Mkclock()
	}
	if lim.Cores < 1 || lim.Queues < 1 || lim.Boostslices < 1 ||
		lim.Quantum <= 0 {
		panic("bad scheduler limits")
	}
	s := &Sched_t{}
	s.lim = lim
	s.clock = clk
	s.queues = make([][]*Tcb_t, lim.Queues)
	s.arena = make(map[defs.Tid_t]*Tcb_t)
	s.cores = make([]*Ccb_t, lim.Cores)
	for i := range s.cores {
		c := &Ccb_t{Id: i}
		c.wake = make(chan struct{}, 1)
		it := &c.idle
		it.Tid = defs.Tid_t(-(i + 1))
		it.Type = IDLE_THREAD
		it.s = s
		it.state = RUNNING
		it.phase = CTX_DIRTY
		it.wakeup = defs.NO_TIMEOUT
		it.core = c
		it.ctx.resume = make(chan struct{}, 1)
		c.current = it
		s.cores[i] = c
	}
	return s
}

func kassert(ok bool, msg string, t *Tcb_t) {
	if ok {
		return
	}
	f := log.Fields{"path": caller.Callers(2)}
	if t != nil {
		f["tid"] = t.Tid
		f["state"] = t.state
		f["member"] = t.member
	}
	log.WithFields(f).Error(msg)
	panic(msg)
}

// creates a thread in state INIT. the thread runs fn once it is woken up and
// selected; fn must never return.
func (s *Sched_t) Spawn_thread(owner interface{}, fn func()) (*Tcb_t, bool) {
	kassert(fn != nil, "nil thread function", nil)
	if !s.lim.Threads.Take() {
		return nil, false
	}
	t := &Tcb_t{}
	t.Owner = owner
	t.Type = NORMAL_THREAD
	t.s = s
	t.state = INIT
	t.phase = CTX_CLEAN
	t.wakeup = defs.NO_TIMEOUT
	t.fn = fn
	t.ctx.ctx_init(s.lim.Stacksz)

	s.Lock()
	s.ntid++
	t.Tid = s.ntid
	s.arena[t.Tid] = t
	s.Unlock()
	atomic.AddInt64(&s.active, 1)
	s.Stats.Nspawn.Inc()
	log.WithFields(log.Fields{"tid": t.Tid}).Debug("spawn")
	return t, true
}

// must be called with the scheduler lock held, and only from gain.
func (s *Sched_t) release(t *Tcb_t) {
	kassert(t.member == QNONE, "release of a queued thread", t)
	kassert(t.ctx.blk != nil, "double release", t)
	if !t.ctx.ctx_release() {
		kassert(false, "stack overflow", t)
	}
	delete(s.arena, t.Tid)
	s.lim.Threads.Give()
	atomic.AddInt64(&s.active, -1)
	s.Stats.Nrelease.Inc()
	log.WithFields(log.Fields{"tid": t.Tid}).Debug("release")
}

func (s *Sched_t) Active() int {
	return int(atomic.LoadInt64(&s.active))
}

func (s *Sched_t) Ncores() int {
	return len(s.cores)
}

func (s *Sched_t) Now() time.Duration {
	return s.clock.Now()
}

func (s *Sched_t) Priority(t *Tcb_t) int {
	s.Lock()
	defer s.Unlock()
	return t.priority
}

func (s *Sched_t) State(t *Tcb_t) Tstate_t {
	s.Lock()
	defer s.Unlock()
	return t.state
}

func (s *Sched_t) Lookup(tid defs.Tid_t) (*Tcb_t, bool) {
	s.Lock()
	defer s.Unlock()
	t, ok := s.arena[tid]
	return t, ok
}

func (s *Sched_t) Stats2String() string {
	return stats.Stats2String(&s.Stats)
}

// the queue helpers below must be called with the scheduler lock held.

func (s *Sched_t) queue_add(t *Tcb_t) {
	kassert(t.member == QNONE, "enqueue of a queued thread", t)
	kassert(t.Type != IDLE_THREAD, "enqueue of an idle thread", t)
	s.queues[t.priority] = append(s.queues[t.priority], t)
	t.member = QREADY
	t.level = t.priority
	s.restart_one()
}

func (s *Sched_t) timeout_add(t *Tcb_t, timeout time.Duration) {
	kassert(t.member == QNONE, "timeout for a queued thread", t)
	t.wakeup = s.clock.Now() + timeout
	n := len(s.timeouts)
	i := sort.Search(n, func(i int) bool {
		return t.wakeup < s.timeouts[i].wakeup
	})
	s.timeouts = append(s.timeouts, nil)
	copy(s.timeouts[i+1:], s.timeouts[i:n])
	s.timeouts[i] = t
	t.member = QTIMEOUT
}

func (s *Sched_t) timeout_remove(t *Tcb_t) {
	kassert(t.member == QTIMEOUT, "not in the timeout list", t)
	for i, o := range s.timeouts {
		if o == t {
			copy(s.timeouts[i:], s.timeouts[i+1:])
			s.timeouts[len(s.timeouts)-1] = nil
			s.timeouts = s.timeouts[:len(s.timeouts)-1]
			t.member = QNONE
			t.wakeup = defs.NO_TIMEOUT
			return
		}
	}
	kassert(false, "timeout list corrupted", t)
}

func (s *Sched_t) make_ready(t *Tcb_t) {
	kassert(t.state == STOPPED || t.state == INIT, "make_ready", t)
	if t.member == QTIMEOUT {
		s.timeout_remove(t)
	}
	t.state = READY
	// a DIRTY thread is still switching away; gain queues it
	if t.phase == CTX_CLEAN {
		s.queue_add(t)
	}
}

func (s *Sched_t) pop(level int) *Tcb_t {
	q := s.queues[level]
	t := q[0]
	q[0] = nil
	s.queues[level] = q[1:]
	t.member = QNONE
	return t
}

func (s *Sched_t) queue_select() *Tcb_t {
	now := s.clock.Now()
	for len(s.timeouts) > 0 && s.timeouts[0].wakeup <= now {
		t := s.timeouts[0]
		s.Stats.Ntimeout.Inc()
		log.WithFields(log.Fields{"tid": t.Tid}).Debug("timeout")
		s.make_ready(t)
	}
	for i := range s.queues {
		if len(s.queues[i]) > 0 {
			return s.pop(i)
		}
	}
	return nil
}

// moves the head of every non-top level one level up
func (s *Sched_t) boost() {
	s.Stats.Nboost.Inc()
	for i := 0; i < len(s.queues)-1; i++ {
		if len(s.queues[i+1]) == 0 {
			continue
		}
		t := s.pop(i + 1)
		t.priority--
		t.level = i
		s.queues[i] = append(s.queues[i], t)
		t.member = QREADY
	}
}

// applies the priority policy for cause
func (s *Sched_t) adjust(t *Tcb_t, cause Cause_t) {
	if t.contention && cause != SCHED_MUTEX {
		t.priority = t.prevprio
		t.contention = false
	}
	switch cause {
	case SCHED_MUTEX:
		if !t.contention {
			t.prevprio = t.priority
			t.contention = true
		}
		t.priority = 0
	case SCHED_QUANTUM:
		if t.priority < len(s.queues)-1 {
			t.priority++
		}
	case SCHED_USER, SCHED_IO, SCHED_PIPE:
		if t.priority > 0 {
			t.priority--
		}
	}
}

// the inter-core interrupt: restart one core that is running its idle
// thread. the wake channel is buffered, so a core that has not halted yet
// will not miss it.
func (s *Sched_t) restart_one() {
	for _, c := range s.cores {
		if c.current == &c.idle {
			c.restart()
			return
		}
	}
}

func (s *Sched_t) restart_all() {
	for _, c := range s.cores {
		c.restart()
	}
}

// makes t READY if it is STOPPED or INIT. safe to call from any context;
// returns whether t changed state.
func (s *Sched_t) Wakeup(t *Tcb_t) bool {
	s.Lock()
	defer s.Unlock()
	if t.state != STOPPED && t.state != INIT {
		return false
	}
	s.make_ready(t)
	s.Stats.Nwakeup.Inc()
	return true
}

func (s *Sched_t) Wakeup_tid(tid defs.Tid_t) bool {
	t, ok := s.Lookup(tid)
	if !ok {
		return false
	}
	return s.Wakeup(t)
}

// blocks cur in state (STOPPED or EXITED), releasing mx once cur's state is
// visible to Wakeup. a negative timeout means no timeout. an EXITED cur
// never returns.
func (s *Sched_t) Sleep_releasing(cur *Tcb_t, state Tstate_t, mx Unlocker_i,
	cause Cause_t, timeout time.Duration) {
	kassert(state == STOPPED || state == EXITED, "bad sleep state", cur)
	kassert(cur.Type != IDLE_THREAD, "idle thread sleeps", cur)
	preempt := cur.core.preempt_off()
	s.Lock()
	cur.state = state
	if state != EXITED && timeout >= 0 {
		s.timeout_add(cur, timeout)
	}
	if mx != nil {
		mx.Unlock()
	}
	s.Unlock()
	s.Yield(cur, cause)
	if preempt {
		cur.core.preempt_on()
	}
}

// the timer interrupt. cur takes it here when its core's alarm is pending
// and preemption is enabled.
func (s *Sched_t) Preempt_point(cur *Tcb_t) bool {
	c := cur.core
	if !c.intr || !c.take_alarm() {
		return false
	}
	s.Stats.Npreempt.Inc()
	s.Yield(cur, SCHED_QUANTUM)
	return true
}

// gives up cur's core. cur is selected again only once it is READY; it
// returns when that happens.
func (s *Sched_t) Yield(cur *Tcb_t, cause Cause_t) {
	c := cur.core
	c.cancel_timer()
	preempt := c.preempt_off()
	if cur.Type != IDLE_THREAD {
		cur.Atime.Ran(cur.ontime)
	}

	s.Lock()
	kassert(c.current == cur, "yield from a thread its core is not running",
		cur)
	s.Stats.Nyield.Inc()
	if cur.Type != IDLE_THREAD {
		s.adjust(cur, cause)
	}
	ready := false
	switch cur.state {
	case RUNNING:
		cur.state = READY
		ready = true
	case READY:
		// woken before it could sleep
		ready = true
	case STOPPED, EXITED:
	default:
		kassert(false, "bad state in yield", cur)
	}
	if s.timeslices >= s.lim.Boostslices {
		s.timeslices = 0
		s.boost()
	}
	next := s.queue_select()
	if next == nil {
		if ready {
			next = cur
		} else {
			next = &c.idle
		}
	}
	cur.next = next
	next.prev = cur
	next.core = c
	c.current = next
	exiting := cur.state == EXITED
	s.Unlock()

	if next != cur {
		s.Stats.Nswitch.Inc()
		swtch(cur, next, exiting)
	}
	s.gain(cur, preempt)
}

// the second half of a context switch, run by the thread that now holds the
// core.
func (s *Sched_t) gain(cur *Tcb_t, preempt bool) {
	s.Lock()
	s.timeslices++
	cur.state = RUNNING
	cur.phase = CTX_DIRTY
	prev := cur.prev
	if prev != cur {
		prev.phase = CTX_CLEAN
		switch prev.state {
		case READY:
			if prev.Type != IDLE_THREAD {
				s.queue_add(prev)
			}
		case EXITED:
			s.release(prev)
		case STOPPED:
		default:
			kassert(false, "bad previous state in gain", prev)
		}
	}
	c := cur.core
	prio := cur.priority
	s.Unlock()

	cur.ontime = cur.Atime.Now()
	if preempt {
		c.preempt_on()
	}
	c.set_timer(s.lim.Quantum * time.Duration(prio+1))
}

func (s *Sched_t) idle_thread(c *Ccb_t) {
	it := &c.idle
	s.Yield(it, SCHED_IDLE)
	for s.Active() > 0 {
		s.Stats.Nhalt.Inc()
		c.halt()
		s.Yield(it, SCHED_IDLE)
	}
	c.cancel_timer()
	s.restart_all()
}

func (s *Sched_t) run_scheduler(c *Ccb_t) {
	log.WithFields(log.Fields{"core": c.Id}).Debug("core up")
	c.preempt_on()
	s.idle_thread(c)
	kassert(c.current == &c.idle, "core stopped with a thread", c.current)
	log.WithFields(log.Fields{"core": c.Id}).Debug("core down")
}

// boots every core and returns once no active threads remain. the first
// thread must be spawned and woken before Run.
func (s *Sched_t) Run() {
	if s.Active() == 0 {
		log.Warn("no threads to run")
	}
	log.WithFields(log.Fields{"cores": len(s.cores),
		"queues": len(s.queues)}).Info("scheduler start")
	var wg sync.WaitGroup
	for _, c := range s.cores {
		wg.Add(1)
		go func(c *Ccb_t) {
			defer wg.Done()
			s.run_scheduler(c)
		}(c)
	}
	wg.Wait()
	log.WithFields(log.Fields{"switches": s.Stats.Nswitch.Get(),
		"boosts": s.Stats.Nboost.Get()}).Info("scheduler stop")
}
