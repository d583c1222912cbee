package proc

import "fmt"
import "sync"

import log "github.com/sirupsen/logrus"

import "github.com/dnikolaidis2/disasteros/accnt"
import "github.com/dnikolaidis2/disasteros/caller"
import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/fd"
import "github.com/dnikolaidis2/disasteros/hashtable"
import "github.com/dnikolaidis2/disasteros/ksync"
import "github.com/dnikolaidis2/disasteros/limits"
import "github.com/dnikolaidis2/disasteros/sched"
import "github.com/dnikolaidis2/disasteros/stats"

type Pstate_t int

const (
	FREE Pstate_t = iota
	ALIVE
	ZOMBIE
)

func (s Pstate_t) String() string {
	switch s {
	case FREE:
		return "FREE"
	case ALIVE:
		return "ALIVE"
	case ZOMBIE:
		return "ZOMBIE"
	}
	return fmt.Sprintf("Pstate_t(%d)", int(s))
}

type Proc_t struct {
	Pid  defs.Pid_t
	Name string

	// pstate, parent, Mywait and the exit status are protected by
	// Ptable_t.Procmx
	pstate Pstate_t
	parent *Proc_t
	// waitinfo for my child processes
	Mywait  Wait_t
	exitval int
	// a non-main thread called Sys_Exit
	exitset bool

	Fds [defs.MAX_FILEID]*fd.Fd_t
	// where to start scanning for free fds
	fdstart int
	// fds, fdstart, nfds protected by fdl
	Fdl sync.Mutex
	// number of valid file descriptors
	nfds int

	// protects threads, thread_count and the join state of every Ptcb_t
	// of this process
	Thread_mx    ksync.Mutex_t
	threads      []*Ptcb_t
	thread_count int
	main         *Ptcb_t

	// this proc's rusage
	Atime accnt.Accnt_t
	// total child rusage
	Catime accnt.Accnt_t

	pt *Ptable_t
}

type ptstats_t struct {
	Nproc     stats.Counter_t
	Nreap     stats.Counter_t
	Nptcb     stats.Counter_t
	Nptcbfree stats.Counter_t
	Njoin     stats.Counter_t
	Ndetach   stats.Counter_t
	Nenomem   stats.Counter_t
}

// the process table
type Ptable_t struct {
	s   *sched.Sched_t
	lim *limits.Syslimit_t
	// pid -> *Proc_t for ALIVE and ZOMBIE processes
	ht *hashtable.Hashtable_t
	// tid -> *Ptcb_t until the record is released
	tids *hashtable.Hashtable_t
	// serializes process creation, termination and reaping
	Procmx ksync.Mutex_t
	// free pids, protected by Procmx
	freepids []defs.Pid_t
	init     *Proc_t
	// when enabled, the first thread creation from each distinct caller
	// path fails with ENOMEM
	Fault caller.Distinct_caller_t
	Stats ptstats_t
}

// pid 0 is the scheduler's process; it has no threads. the first process
// created gets pid 1 and adopts orphans.
func Mkptable(s *sched.Sched_t, lim *limits.Syslimit_t) *Ptable_t {
	if lim == nil {
		lim = limits.MkSysLimit()
	}
	if lim.Sysprocs < 2 {
		panic("need room for init")
	}
	pt := &Ptable_t{s: s, lim: lim}
	pt.ht = hashtable.MkHash(lim.Sysprocs)
	pt.tids = hashtable.MkHash(lim.Sysprocs)
	for pid := lim.Sysprocs - 1; pid > 0; pid-- {
		pt.freepids = append(pt.freepids, defs.Pid_t(pid))
	}
	p0 := &Proc_t{Pid: 0, Name: "sched", pstate: ALIVE, pt: pt}
	pt.ht.Set(int32(0), p0)
	return pt
}

func (pt *Ptable_t) Sched() *sched.Sched_t {
	return pt.s
}

func (pt *Ptable_t) Get(pid defs.Pid_t) (*Proc_t, bool) {
	ret, ok := pt.ht.Get(int32(pid))
	if ok {
		return ret.(*Proc_t), true
	}
	return nil, false
}

// Iter may execute concurrently with other lookups, inserts, and deletes
func (pt *Ptable_t) Iter(f func(defs.Pid_t, *Proc_t) bool) {
	pt.ht.Iter(func(key, value interface{}) bool {
		pid := key.(int32)
		p := value.(*Proc_t)
		return f(defs.Pid_t(pid), p)
	})
}

// the number of processes holding a pid, the scheduler's included
func (pt *Ptable_t) Nprocs() int {
	return pt.ht.Len()
}

func (pt *Ptable_t) Pstate(p *Proc_t, cur *sched.Tcb_t) Pstate_t {
	pt.Procmx.Lock(cur)
	defer pt.Procmx.Unlock()
	return p.pstate
}

func CurrentProc(cur *sched.Tcb_t) *Proc_t {
	return cur.Owner.(*Proc_t)
}

// returns the new process's pid. the process runs task in its main thread.
// cur is nil only when the kernel creates the first process.
func (pt *Ptable_t) Exec(cur *sched.Tcb_t, name string, task Task_t, argl int,
	args []uint8) (defs.Pid_t, defs.Err_t) {
	if task == nil {
		return defs.NOPROC, -defs.EINVAL
	}
	var parent *Proc_t
	if cur != nil {
		parent = CurrentProc(cur)
	}

	pt.Procmx.Lock(cur)
	if len(pt.freepids) == 0 {
		pt.Procmx.Unlock()
		log.WithFields(log.Fields{"name": name}).Warn("process table full")
		return defs.NOPROC, -defs.EAGAIN
	}
	pid := pt.freepids[len(pt.freepids)-1]
	pt.freepids = pt.freepids[:len(pt.freepids)-1]
	np := &Proc_t{Pid: pid, Name: name, pstate: ALIVE, parent: parent}
	np.pt = pt
	if parent != nil {
		parent.Mywait._start(pid)
	}
	if pt.init == nil {
		pt.init = np
	}
	pt.ht.Set(int32(pid), np)
	pt.Procmx.Unlock()

	if parent != nil {
		parent.fd_inherit(np)
	}

	if _, err := pt.mkthread(cur, np, task, argl, args, true); err != 0 {
		// a process made at boot has no fds; closing may block, which
		// needs a thread
		if parent != nil {
			np.fd_closeall(cur)
		}
		pt.Procmx.Lock(cur)
		if parent != nil {
			parent.Mywait._undo(pid)
		}
		if pt.init == np {
			pt.init = nil
		}
		pt.proc_free(np)
		pt.Procmx.Unlock()
		return defs.NOPROC, err
	}
	pt.Stats.Nproc.Inc()
	log.WithFields(log.Fields{"pid": pid, "name": name}).Debug("exec")
	return pid, 0
}

func (pt *Ptable_t) Sys_GetPid(cur *sched.Tcb_t) defs.Pid_t {
	return CurrentProc(cur).Pid
}

func (pt *Ptable_t) Sys_GetPPid(cur *sched.Tcb_t) defs.Pid_t {
	p := CurrentProc(cur)
	pt.Procmx.Lock(cur)
	defer pt.Procmx.Unlock()
	if p.parent == nil {
		return defs.NOPROC
	}
	return p.parent.Pid
}

// waits for the child pid, or any child if pid is NOPROC, to exit and
// reaps it. returns the reaped pid.
func (pt *Ptable_t) Sys_WaitChild(cur *sched.Tcb_t, pid defs.Pid_t,
	status *int) (defs.Pid_t, defs.Err_t) {
	return pt.waitchild(cur, pid, status, false)
}

// like Sys_WaitChild but fails with EAGAIN instead of blocking
func (pt *Ptable_t) Sys_WaitChild_noblk(cur *sched.Tcb_t, pid defs.Pid_t,
	status *int) (defs.Pid_t, defs.Err_t) {
	return pt.waitchild(cur, pid, status, true)
}

func (pt *Ptable_t) waitchild(cur *sched.Tcb_t, pid defs.Pid_t, status *int,
	noblk bool) (defs.Pid_t, defs.Err_t) {
	p := CurrentProc(cur)
	if pid != defs.NOPROC && (pid < 0 || int(pid) >= pt.lim.Sysprocs) {
		return defs.NOPROC, -defs.ECHILD
	}
	pt.Procmx.Lock(cur)
	defer pt.Procmx.Unlock()
	wst, err := p.Mywait._reap(cur, pid, noblk, &pt.Procmx)
	if err != 0 {
		return defs.NOPROC, err
	}
	child, ok := pt.Get(wst.Pid)
	if !ok || child.pstate != ZOMBIE {
		panic("reaped child must be a zombie")
	}
	p.Catime.Add(&wst.Atime)
	pt.proc_free(child)
	if status != nil {
		*status = wst.Status
	}
	pt.Stats.Nreap.Inc()
	return wst.Pid, 0
}

// must hold Procmx
func (pt *Ptable_t) proc_free(p *Proc_t) {
	p.pstate = FREE
	p.parent = nil
	pt.ht.Del(int32(p.Pid))
	pt.freepids = append(pt.freepids, p.Pid)
}

// terminate a process. must only be called by its main thread once the
// process has no other threads.
func (pt *Ptable_t) terminate(cur *sched.Tcb_t, p *Proc_t) {
	p.Thread_mx.Lock(cur)
	if p.thread_count != 0 || len(p.threads) != 0 {
		panic("terminate, but threads alive")
	}
	p.Thread_mx.Unlock()

	// close open fds
	p.fd_closeall(cur)

	pt.Procmx.Lock(cur)
	defer pt.Procmx.Unlock()

	// reparent my children to init. an orphaned init hands them to
	// nobody; they are freed once they exit.
	heir := pt.init
	if heir == p {
		heir = nil
		pt.init = nil
	}
	for n := p.Mywait.pwait.head; n != nil; n = n.next {
		c, ok := pt.Get(n.wst.Pid)
		if !ok {
			panic("child must exist")
		}
		c.parent = heir
		if heir == nil && c.pstate == ZOMBIE {
			pt.proc_free(c)
		}
	}
	if heir != nil {
		heir.Mywait.adopt(&p.Mywait)
	} else {
		p.Mywait.pwait = whead_t{}
	}

	// combine total child rusage with ours, send to parent
	na := accnt.Accnt_t{}
	na.Add(&p.Atime)
	na.Add(&p.Catime)

	log.WithFields(log.Fields{"pid": p.Pid,
		"status": p.exitval}).Info("process exit")
	if p.parent != nil {
		p.pstate = ZOMBIE
		p.parent.Mywait.putpid(p.Pid, p.exitval, &na)
	} else {
		pt.proc_free(p)
	}
}
