package limits

import "sync/atomic"
import "time"

// times a limit refused a request
var Lhits int64

type Sysatomic_t int64

type Syslimit_t struct {
	// number of simulated cores
	Cores int
	// number of scheduler priority levels
	Queues int
	// completed timeslices between two priority boosts
	Boostslices int
	// base timeslice; a thread at priority p gets Quantum*(p+1)
	Quantum time.Duration
	// stack bytes per thread, excluding the control block pages
	Stacksz int
	// process table slots, including the scheduler process
	Sysprocs int
	// live threads, excluding idle threads
	Threads Sysatomic_t
	// bytes buffered by one pipe
	Pipebuf int
}

var Syslimit *Syslimit_t = MkSysLimit()

func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Cores:       1,
		Queues:      15,
		Boostslices: 5,
		Quantum:     10 * time.Millisecond,
		Stacksz:     4 << 12,
		Sysprocs:    1024,
		Threads:     1e4,
		Pipebuf:     16 << 10,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(s)
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	atomic.AddInt64(&Lhits, 1)
	return false
}

// returns false if the limit has been reached.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}

func (s *Sysatomic_t) Left() int64 {
	return atomic.LoadInt64(s._aptr())
}
