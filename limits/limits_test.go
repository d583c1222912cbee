package limits

import "sync"
import "testing"

func TestTakeGive(t *testing.T) {
	var s Sysatomic_t = 3
	for i := 0; i < 3; i++ {
		if !s.Take() {
			t.Fatalf("take %v failed", i)
		}
	}
	if s.Take() {
		t.Fatalf("took past the limit")
	}
	if s.Left() != 0 {
		t.Fatalf("left %v", s.Left())
	}
	s.Give()
	if !s.Take() {
		t.Fatalf("take after give failed")
	}
}

func TestConcurrentTake(t *testing.T) {
	const N = 100
	var s Sysatomic_t = N
	var wg sync.WaitGroup
	var mu sync.Mutex
	got := 0
	for i := 0; i < 4*N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Take() {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if got != N {
		t.Fatalf("got %v want %v", got, N)
	}
}

func TestDefaults(t *testing.T) {
	l := MkSysLimit()
	if l.Queues < 2 || l.Cores < 1 || l.Quantum <= 0 {
		t.Fatalf("bad defaults %+v", l)
	}
}
