package sched

import "math/rand"
import "sync"
import "sync/atomic"
import "testing"
import "time"

import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/limits"

type fakeclock_t struct {
	sync.Mutex
	now time.Duration
}

func (f *fakeclock_t) Now() time.Duration {
	f.Lock()
	defer f.Unlock()
	return f.now
}

func (f *fakeclock_t) advance(d time.Duration) {
	f.Lock()
	f.now += d
	f.Unlock()
}

func mktest(cores int, clk Clock_i) *Sched_t {
	lim := limits.MkSysLimit()
	lim.Cores = cores
	lim.Quantum = time.Millisecond
	return Mksched(lim, clk)
}

// spawns a thread running f that exits once f returns
func spawn(s *Sched_t, f func(*Tcb_t)) *Tcb_t {
	var t *Tcb_t
	var ok bool
	t, ok = s.Spawn_thread(nil, func() {
		f(t)
		t.Sleep_releasing(EXITED, nil, SCHED_USER, defs.NO_TIMEOUT)
	})
	if !ok {
		panic("spawn")
	}
	return t
}

func run(t *testing.T, s *Sched_t, d time.Duration) {
	done := make(chan bool)
	go func() {
		s.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("scheduler did not stop; %d active", s.Active())
	}
}

func nop(*Tcb_t) {}

func TestFifoWithinLevel(t *testing.T) {
	s := mktest(1, &fakeclock_t{})
	var ts []*Tcb_t
	for i := 0; i < 5; i++ {
		tt := spawn(s, nop)
		ts = append(ts, tt)
		if !s.Wakeup(tt) {
			t.Fatalf("wakeup of INIT thread failed")
		}
	}
	s.Lock()
	defer s.Unlock()
	for i, want := range ts {
		got := s.queue_select()
		if got != want {
			t.Fatalf("select %d: got %v want %v", i, got, want)
		}
		if got.member != QNONE {
			t.Fatalf("selected thread still queued")
		}
	}
	if s.queue_select() != nil {
		t.Fatalf("queues not empty")
	}
}

func TestLevelOrder(t *testing.T) {
	s := mktest(1, &fakeclock_t{})
	lo := spawn(s, nop)
	hi := spawn(s, nop)
	s.Lock()
	lo.priority = 7
	s.Unlock()
	s.Wakeup(lo)
	s.Wakeup(hi)
	s.Lock()
	defer s.Unlock()
	if lo.level != 7 || hi.level != 0 {
		t.Fatalf("bad levels %d %d", lo.level, hi.level)
	}
	if s.queue_select() != hi || s.queue_select() != lo {
		t.Fatalf("levels not scanned best first")
	}
}

func TestWakeupStates(t *testing.T) {
	s := mktest(1, &fakeclock_t{})
	tt := spawn(s, nop)
	if !s.Wakeup(tt) {
		t.Fatalf("INIT not woken")
	}
	if s.Wakeup(tt) {
		t.Fatalf("READY woken twice")
	}
	if s.State(tt) != READY {
		t.Fatalf("state %v", s.State(tt))
	}
	if s.Wakeup_tid(tt.Tid) {
		t.Fatalf("READY woken by tid")
	}
	if s.Wakeup_tid(12345) {
		t.Fatalf("woke unknown tid")
	}
}

func TestPriorityPolicy(t *testing.T) {
	s := mktest(1, &fakeclock_t{})
	tt := spawn(s, nop)
	L := len(s.queues)
	s.Lock()
	defer s.Unlock()
	for i := 0; i < 2*L; i++ {
		s.adjust(tt, SCHED_QUANTUM)
	}
	if tt.priority != L-1 {
		t.Fatalf("priority %d not capped at %d", tt.priority, L-1)
	}
	s.adjust(tt, SCHED_USER)
	if tt.priority != L-2 {
		t.Fatalf("user yield: %d", tt.priority)
	}
	s.adjust(tt, SCHED_MUTEX)
	if tt.priority != 0 || !tt.contention || tt.prevprio != L-2 {
		t.Fatalf("mutex: prio %d prev %d", tt.priority, tt.prevprio)
	}
	// a second contended yield must not clobber the saved priority
	s.adjust(tt, SCHED_MUTEX)
	if tt.prevprio != L-2 {
		t.Fatalf("saved priority lost: %d", tt.prevprio)
	}
	s.adjust(tt, SCHED_POLL)
	if tt.priority != L-2 || tt.contention {
		t.Fatalf("restore: %d %v", tt.priority, tt.contention)
	}
	s.adjust(tt, SCHED_IDLE)
	if tt.priority != L-2 {
		t.Fatalf("restored twice: %d", tt.priority)
	}
	for i := 0; i < 2*L; i++ {
		s.adjust(tt, SCHED_IO)
	}
	if tt.priority != 0 {
		t.Fatalf("priority %d not capped at 0", tt.priority)
	}
}

func TestPriorityBounds(t *testing.T) {
	s := mktest(1, &fakeclock_t{})
	tt := spawn(s, nop)
	L := len(s.queues)
	causes := []Cause_t{SCHED_QUANTUM, SCHED_IO, SCHED_MUTEX, SCHED_PIPE,
		SCHED_POLL, SCHED_USER}
	r := rand.New(rand.NewSource(1))
	s.Lock()
	defer s.Unlock()
	for i := 0; i < 10000; i++ {
		c := causes[r.Intn(len(causes))]
		before := tt.priority
		s.adjust(tt, c)
		if tt.priority < 0 || tt.priority > L-1 {
			t.Fatalf("priority %d out of range", tt.priority)
		}
		if c == SCHED_QUANTUM && tt.priority < before {
			t.Fatalf("quantum expiry improved priority %d -> %d", before,
				tt.priority)
		}
	}
}

func TestBoost(t *testing.T) {
	s := mktest(1, &fakeclock_t{})
	L := len(s.queues)
	var ts []*Tcb_t
	for i := 0; i < 3; i++ {
		tt := spawn(s, nop)
		s.Lock()
		tt.priority = L - 1
		s.Unlock()
		s.Wakeup(tt)
		ts = append(ts, tt)
	}
	mid := spawn(s, nop)
	s.Lock()
	mid.priority = 3
	s.Unlock()
	s.Wakeup(mid)

	s.Lock()
	defer s.Unlock()
	s.boost()
	if ts[0].priority != L-2 || ts[0].level != L-2 {
		t.Fatalf("head of last level not boosted: %d", ts[0].priority)
	}
	if ts[1].priority != L-1 || ts[2].priority != L-1 {
		t.Fatalf("more than one thread boosted per level")
	}
	if mid.priority != 2 {
		t.Fatalf("mid not boosted: %d", mid.priority)
	}
	// the top level is never boosted
	s.boost()
	s.boost()
	s.boost()
	if mid.priority != 0 || mid.level != 0 {
		t.Fatalf("mid: %d", mid.priority)
	}
	s.boost()
	if mid.priority != 0 {
		t.Fatalf("boosted past 0")
	}
	n := 0
	for _, q := range s.queues {
		for _, tt := range q {
			if tt.member != QREADY {
				t.Fatalf("bad member")
			}
			n++
		}
	}
	if n != 4 {
		t.Fatalf("lost threads: %d", n)
	}
}

func TestTimeoutOrder(t *testing.T) {
	clk := &fakeclock_t{}
	s := mktest(1, clk)
	ds := []time.Duration{30, 10, 20, 10}
	var ts []*Tcb_t
	for range ds {
		ts = append(ts, spawn(s, nop))
	}
	s.Lock()
	for i, d := range ds {
		ts[i].state = STOPPED
		s.timeout_add(ts[i], d*time.Millisecond)
	}
	for i := 1; i < len(s.timeouts); i++ {
		if s.timeouts[i-1].wakeup > s.timeouts[i].wakeup {
			t.Fatalf("timeouts out of order")
		}
	}
	if s.timeouts[0] != ts[1] || s.timeouts[1] != ts[3] {
		t.Fatalf("equal deadlines reordered")
	}
	if s.queue_select() != nil {
		t.Fatalf("woke before the deadline")
	}
	s.Unlock()

	clk.advance(15 * time.Millisecond)
	s.Lock()
	if got := s.queue_select(); got != ts[1] {
		t.Fatalf("got %v want %v", got, ts[1])
	}
	if ts[3].member != QREADY || ts[3].state != READY {
		t.Fatalf("expired thread not ready")
	}
	if ts[0].member != QTIMEOUT || ts[2].member != QTIMEOUT {
		t.Fatalf("unexpired thread moved")
	}
	s.Unlock()

	// an explicit wakeup takes the thread off the timeout list
	if !s.Wakeup(ts[2]) {
		t.Fatalf("wakeup failed")
	}
	s.Lock()
	defer s.Unlock()
	if ts[2].member != QREADY || ts[2].wakeup != defs.NO_TIMEOUT {
		t.Fatalf("woken thread still timed")
	}
	if len(s.timeouts) != 1 || s.timeouts[0] != ts[0] {
		t.Fatalf("timeout list %v", s.timeouts)
	}
}

func TestStackGuard(t *testing.T) {
	var c ctx_t
	c.ctx_init(100)
	if c.Blksz()%defs.PGSIZE != 0 || c.Blksz() < ctlsz+100 {
		t.Fatalf("bad block size %d", c.Blksz())
	}
	if !c.ctx_release() {
		t.Fatalf("clean stack reported damaged")
	}
	c.ctx_init(defs.PGSIZE)
	c.stack[3] = 0
	if c.ctx_release() {
		t.Fatalf("overflow not caught")
	}
}

func TestThreadLimit(t *testing.T) {
	lim := limits.MkSysLimit()
	lim.Threads = 2
	s := Mksched(lim, &fakeclock_t{})
	spawn(s, nop)
	spawn(s, nop)
	if _, ok := s.Spawn_thread(nil, func() {}); ok {
		t.Fatalf("limit not enforced")
	}
	if s.Active() != 2 {
		t.Fatalf("active %d", s.Active())
	}
}

func TestRunExit(t *testing.T) {
	s := mktest(1, nil)
	var n int64
	const N = 20
	for i := 0; i < N; i++ {
		s.Wakeup(spawn(s, func(cur *Tcb_t) {
			for j := 0; j < 3; j++ {
				cur.Yield(SCHED_USER)
			}
			atomic.AddInt64(&n, 1)
		}))
	}
	run(t, s, 10*time.Second)
	if n != N {
		t.Fatalf("%d threads finished", n)
	}
	if s.Active() != 0 {
		t.Fatalf("active %d", s.Active())
	}
	if s.Stats.Nspawn.Get() != N || s.Stats.Nrelease.Get() != N {
		t.Fatalf("spawned %d released %d", s.Stats.Nspawn.Get(),
			s.Stats.Nrelease.Get())
	}
	if len(s.arena) != 0 {
		t.Fatalf("arena not empty")
	}
}

func TestSpawnFromThread(t *testing.T) {
	s := mktest(2, nil)
	var n int64
	var tree func(cur *Tcb_t, depth int)
	tree = func(cur *Tcb_t, depth int) {
		atomic.AddInt64(&n, 1)
		if depth == 0 {
			return
		}
		for i := 0; i < 2; i++ {
			s.Wakeup(spawn(s, func(c *Tcb_t) { tree(c, depth-1) }))
		}
	}
	s.Wakeup(spawn(s, func(c *Tcb_t) { tree(c, 5) }))
	run(t, s, 10*time.Second)
	if n != 63 {
		t.Fatalf("ran %d threads", n)
	}
	if s.Stats.Nrelease.Get() != 63 {
		t.Fatalf("released %d", s.Stats.Nrelease.Get())
	}
}

func TestNoLostWakeup(t *testing.T) {
	for _, cores := range []int{1, 3} {
		s := mktest(cores, nil)
		var mu sync.Mutex
		var waiter *Tcb_t
		tokens := 0
		got := 0
		const N = 5000
		s.Wakeup(spawn(s, func(cur *Tcb_t) {
			for got < N {
				mu.Lock()
				for tokens == 0 {
					waiter = cur
					cur.Sleep_releasing(STOPPED, &mu, SCHED_IO,
						defs.NO_TIMEOUT)
					mu.Lock()
				}
				tokens--
				got++
				mu.Unlock()
			}
		}))
		s.Wakeup(spawn(s, func(cur *Tcb_t) {
			r := rand.New(rand.NewSource(int64(cores)))
			for i := 0; i < N; i++ {
				mu.Lock()
				tokens++
				w := waiter
				waiter = nil
				mu.Unlock()
				if w != nil {
					w.Wakeup()
				}
				if r.Intn(4) == 0 {
					cur.Yield(SCHED_USER)
				}
				cur.Preempt_point()
			}
		}))
		run(t, s, 30*time.Second)
		if got != N {
			t.Fatalf("consumed %d of %d", got, N)
		}
	}
}

func TestTimedSleep(t *testing.T) {
	s := mktest(1, nil)
	const d = 20 * time.Millisecond
	var slept time.Duration
	var woke bool
	s.Wakeup(spawn(s, func(cur *Tcb_t) {
		var mu sync.Mutex
		mu.Lock()
		st := s.Now()
		cur.Sleep_releasing(STOPPED, &mu, SCHED_IO, d)
		slept = s.Now() - st
		s.Lock()
		woke = cur.member == QNONE && cur.wakeup == defs.NO_TIMEOUT
		s.Unlock()
	}))
	run(t, s, 10*time.Second)
	if slept < d {
		t.Fatalf("woke early after %v", slept)
	}
	if slept > d+time.Second {
		t.Fatalf("overshoot %v", slept)
	}
	if !woke {
		t.Fatalf("thread still on a scheduler list")
	}
	if s.Stats.Ntimeout.Get() != 1 {
		t.Fatalf("timeouts %d", s.Stats.Ntimeout.Get())
	}
}

func TestPreemption(t *testing.T) {
	s := mktest(1, nil)
	var flag int32
	s.Wakeup(spawn(s, func(cur *Tcb_t) {
		for atomic.LoadInt32(&flag) == 0 {
			cur.Preempt_point()
		}
	}))
	s.Wakeup(spawn(s, func(cur *Tcb_t) {
		atomic.StoreInt32(&flag, 1)
	}))
	run(t, s, 10*time.Second)
	if s.Stats.Npreempt.Get() == 0 {
		t.Fatalf("spinner never preempted")
	}
}

func TestQuantumDemotion(t *testing.T) {
	s := mktest(1, nil)
	L := len(s.queues)
	var prios []int
	s.Wakeup(spawn(s, func(cur *Tcb_t) {
		for i := 0; i < 5; i++ {
			cur.Yield(SCHED_QUANTUM)
			prios = append(prios, s.Priority(cur))
		}
	}))
	run(t, s, 10*time.Second)
	for i, p := range prios {
		if p > L-1 || p > i+1 || p < 1 {
			t.Fatalf("after %d expirations priority %d", i+1, p)
		}
	}
}

func TestManyCores(t *testing.T) {
	s := mktest(4, nil)
	var n int64
	const N = 200
	for i := 0; i < N; i++ {
		s.Wakeup(spawn(s, func(cur *Tcb_t) {
			for j := 0; j < 10; j++ {
				if j%3 == 0 {
					cur.Yield(SCHED_QUANTUM)
				} else {
					cur.Yield(SCHED_USER)
				}
			}
			atomic.AddInt64(&n, 1)
		}))
	}
	run(t, s, 30*time.Second)
	if n != N || s.Stats.Nrelease.Get() != N {
		t.Fatalf("finished %d released %d", n, s.Stats.Nrelease.Get())
	}
	if s.lim.Threads.Left() != 1e4 {
		t.Fatalf("thread budget leaked: %d", s.lim.Threads.Left())
	}
}
