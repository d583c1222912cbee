package caller

import "fmt"
import "runtime"
import "strings"
import "sync"

// the deepest path recorded; kernel threads are shallow
const maxframes = 64

// formats a call path one "function (file:line)" per line, innermost
// first. the walk ends at the goroutine's entry.
func pathstr(pcs []uintptr, skip func(string) bool) (string, bool) {
	var sb strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if fr.Function == "runtime.goexit" {
			break
		}
		if skip != nil && skip(fr.Function) {
			return "", false
		}
		if sb.Len() != 0 {
			sb.WriteString("\t<-")
		}
		fmt.Fprintf(&sb, "%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return sb.String(), true
}

// returns the call path starting start frames above Callers. used by
// kernel assertions to record where an invariant broke.
func Callers(start int) string {
	pcs := make([]uintptr, maxframes)
	got := runtime.Callers(start+1, pcs)
	s, _ := pathstr(pcs[:got], nil)
	return s
}

// fails the first call from each distinct path of ancestor callers. the
// process table uses one to inject allocation failures into thread
// creation. the zero value is disabled.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	did     map[uintptr]bool
	// functions whose paths never fail
	Whitel map[string]bool
}

// a poor-man's hash of the return addresses, which is probably unique
func pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("empty path")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// the number of distinct paths seen
func (dc *Distinct_caller_t) Len() int {
	dc.Lock()
	defer dc.Unlock()
	return len(dc.did)
}

// forgets every path seen, so each may fail again
func (dc *Distinct_caller_t) Reset() {
	dc.Lock()
	dc.did = nil
	dc.Unlock()
}

// returns true and the path the first time the caller's path is seen,
// unless a white-listed function is on it.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}

	pcs := make([]uintptr, maxframes)
	got := runtime.Callers(3, pcs)
	if got == 0 {
		panic("no callers")
	}
	pcs = pcs[:got]
	h := pchash(pcs)
	if dc.did[h] {
		return false, ""
	}
	dc.did[h] = true
	s, ok := pathstr(pcs, func(fn string) bool {
		return dc.Whitel[fn]
	})
	return ok, s
}
