package proc

import "github.com/dnikolaidis2/disasteros/accnt"
import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/ksync"
import "github.com/dnikolaidis2/disasteros/sched"

// requirements for WaitChild:
// - wait for a pid that is not my child must fail
// - only one wait for a specific pid may succeed; others must fail
// - wait when there are no children must fail
type Waitst_t struct {
	Pid    defs.Pid_t
	Status int
	Atime  accnt.Accnt_t
	// true iff the child exited; the entry is then on the exited list
	Valid bool
}

// the children of a process. an entry is pushed when a child is created
// and marked valid when it exits; reaping removes it. every method must be
// called with Ptable_t.Procmx held.
type Wait_t struct {
	pwait whead_t
	// signaled when a child exits
	child_exit ksync.Cond_t
}

type wlist_t struct {
	next *wlist_t
	wst  Waitst_t
}

type whead_t struct {
	head  *wlist_t
	count int
}

func (wh *whead_t) wpush(n *wlist_t) {
	n.next = wh.head
	wh.head = n
	wh.count++
}

func (wh *whead_t) wpopvalid() (*wlist_t, bool) {
	var prev *wlist_t
	n := wh.head
	for n != nil {
		if n.wst.Valid {
			wh.wremove(prev, n)
			return n, true
		}
		prev = n
		n = n.next
	}
	return nil, false
}

// returns the previous element in the wait status singly-linked list (in order
// to remove the requested element), the requested element, and whether the
// requested element was found.
func (wh *whead_t) wfind(id defs.Pid_t) (*wlist_t, *wlist_t, bool) {
	var prev *wlist_t
	ret := wh.head
	for ret != nil {
		if ret.wst.Pid == id {
			return prev, ret, true
		}
		prev = ret
		ret = ret.next
	}
	return nil, nil, false
}

func (wh *whead_t) wremove(prev, h *wlist_t) {
	if prev != nil {
		prev.next = h.next
	} else {
		wh.head = h.next
	}
	h.next = nil
	wh.count--
}

// returns the number of children, exited or not
func (w *Wait_t) Len() int {
	return w.pwait.count
}

// returns the number of exited children not yet reaped
func (w *Wait_t) Nexited() int {
	ret := 0
	for p := w.pwait.head; p != nil; p = p.next {
		if p.wst.Valid {
			ret++
		}
	}
	return ret
}

func (w *Wait_t) _start(pid defs.Pid_t) {
	n := &wlist_t{}
	n.wst.Pid = pid
	w.pwait.wpush(n)
}

// undoes _start for a child that never ran
func (w *Wait_t) _undo(pid defs.Pid_t) {
	prev, n, ok := w.pwait.wfind(pid)
	if !ok {
		panic("id must exist")
	}
	w.pwait.wremove(prev, n)
}

func (w *Wait_t) putpid(pid defs.Pid_t, status int, atime *accnt.Accnt_t) {
	_, wn, ok := w.pwait.wfind(pid)
	if !ok {
		panic("id must exist")
	}
	wn.wst.Valid = true
	wn.wst.Status = status
	if atime != nil {
		wn.wst.Atime.Userns += atime.Userns
		wn.wst.Atime.Sysns += atime.Sysns
	}
	w.child_exit.Broadcast()
}

// moves all entries of from to w. returns whether any moved entry had
// already exited.
func (w *Wait_t) adopt(from *Wait_t) bool {
	exited := false
	for from.pwait.head != nil {
		n := from.pwait.head
		from.pwait.wremove(nil, n)
		exited = exited || n.wst.Valid
		w.pwait.wpush(n)
	}
	if exited {
		w.child_exit.Broadcast()
	}
	return exited
}

// waits for child pid (or any child for NOPROC) to exit and removes its
// entry, which is returned. mx is Ptable_t.Procmx, held by the caller.
func (w *Wait_t) _reap(cur *sched.Tcb_t, pid defs.Pid_t, noblk bool,
	mx *ksync.Mutex_t) (*Waitst_t, defs.Err_t) {
	wh := &w.pwait
	for {
		if pid == defs.NOPROC {
			if wh.count < 0 {
				panic("neg childs")
			}
			if wh.count == 0 {
				return nil, -defs.ECHILD
			}
			if ret, ok := wh.wpopvalid(); ok {
				return &ret.wst, 0
			}
		} else {
			wp, wn, ok := wh.wfind(pid)
			if !ok {
				return nil, -defs.ECHILD
			}
			if wn.wst.Valid {
				wh.wremove(wp, wn)
				return &wn.wst, 0
			}
		}
		if noblk {
			return nil, -defs.EAGAIN
		}
		// wait for someone to exit
		w.child_exit.Wait(cur, mx, sched.SCHED_USER)
	}
}
