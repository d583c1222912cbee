package proc

import "testing"

import "github.com/dnikolaidis2/disasteros/accnt"
import "github.com/dnikolaidis2/disasteros/defs"

func TestReapEntry(t *testing.T) {
	w := &Wait_t{}
	w._start(5)
	w._start(6)
	if _, err := w._reap(nil, 5, true, nil); err != -defs.EAGAIN {
		t.Fatalf("reap of a running child: %v", err)
	}
	w.putpid(5, 7, &accnt.Accnt_t{Userns: 10, Sysns: 20})
	if w.Nexited() != 1 {
		t.Fatalf("exited %v", w.Nexited())
	}

	wst, err := w._reap(nil, defs.NOPROC, true, nil)
	if err != 0 || wst == nil {
		t.Fatalf("reap any: %v", err)
	}
	if wst.Pid != 5 || wst.Status != 7 || !wst.Valid {
		t.Fatalf("reaped %v status %v valid %v", wst.Pid, wst.Status,
			wst.Valid)
	}
	if wst.Atime.Userns != 10 || wst.Atime.Sysns != 20 {
		t.Fatalf("accounting %v %v", wst.Atime.Userns, wst.Atime.Sysns)
	}
	if w.Len() != 1 {
		t.Fatalf("children left %v", w.Len())
	}

	// a reaped pid is gone
	if _, err := w._reap(nil, 5, true, nil); err != -defs.ECHILD {
		t.Fatalf("second reap: %v", err)
	}
	w._undo(6)
	if _, err := w._reap(nil, defs.NOPROC, true, nil); err != -defs.ECHILD {
		t.Fatalf("reap without children: %v", err)
	}
}

func TestAdopt(t *testing.T) {
	from := &Wait_t{}
	to := &Wait_t{}
	from._start(3)
	from._start(4)
	from.putpid(4, 1, nil)
	if !to.adopt(from) {
		t.Fatalf("exited child not reported")
	}
	if from.Len() != 0 || to.Len() != 2 || to.Nexited() != 1 {
		t.Fatalf("from %v to %v exited %v", from.Len(), to.Len(),
			to.Nexited())
	}
	wst, err := to._reap(nil, 4, true, nil)
	if err != 0 || wst.Status != 1 {
		t.Fatalf("reap adopted: %v", err)
	}
}
