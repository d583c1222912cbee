package accnt

import "sync"
import "sync/atomic"
import "time"

type Accnt_t struct {
	// nanoseconds
	Userns int64
	Sysns  int64
	// for getting consistent snapshot of both times; not always needed
	sync.Mutex
}

func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// charge the time since a thread was put on a core
func (a *Accnt_t) Ran(since int) {
	a.Utadd(a.Now() - since)
}

// charge time spent inside the scheduler
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

func (a *Accnt_t) Fetch() (time.Duration, time.Duration) {
	a.Lock()
	u := atomic.LoadInt64(&a.Userns)
	s := atomic.LoadInt64(&a.Sysns)
	a.Unlock()
	return time.Duration(u), time.Duration(s)
}
