package proc

import log "github.com/sirupsen/logrus"

import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/ksync"
import "github.com/dnikolaidis2/disasteros/sched"

// a thread's entry point. its return value is the thread's exit value.
type Task_t func(cur *sched.Tcb_t, argl int, args []uint8) int

// the join/detach record of a thread. it outlives the thread's Tcb_t until
// the thread has finished and no joiner still looks at it.
type Ptcb_t struct {
	Tid   defs.Tid_t
	owner *Proc_t
	task  Task_t
	argl  int
	args  []uint8

	// the fields below are protected by owner.Thread_mx
	tcb     *sched.Tcb_t
	exitval int
	// the exit value is valid
	exited   bool
	detached bool
	// some thread has started joining; lets an exiting thread go
	joined bool
	// off the process's thread list; the thread is about to become EXITED
	finished bool
	released bool
	// joiners still looking at the record
	refcount int
	// signaled on exit, detach, finish and join arrival
	exit_cv ksync.Cond_t
}

func (pt *Ptable_t) thread_start(ptcb *Ptcb_t, cur *sched.Tcb_t) {
	ret := ptcb.task(cur, ptcb.argl, ptcb.args)
	pt.Sys_ThreadExit(cur, ret)
}

// allocates a record, spawns its thread, registers it with p and makes it
// READY. the creator does not block.
func (pt *Ptable_t) mkthread(cur *sched.Tcb_t, p *Proc_t, task Task_t, argl int,
	args []uint8, ismain bool) (*Ptcb_t, defs.Err_t) {
	if task == nil {
		return nil, -defs.EINVAL
	}
	if ok, path := pt.Fault.Distinct(); ok {
		pt.Stats.Nenomem.Inc()
		log.WithFields(log.Fields{"pid": p.Pid, "path": path}).Warn("injected ENOMEM")
		return nil, -defs.ENOMEM
	}
	ptcb := &Ptcb_t{owner: p, task: task, argl: argl, args: args}
	var t *sched.Tcb_t
	var ok bool
	t, ok = pt.s.Spawn_thread(p, func() {
		pt.thread_start(ptcb, t)
	})
	if !ok {
		pt.Stats.Nenomem.Inc()
		log.WithFields(log.Fields{"pid": p.Pid}).Warn("thread limit")
		return nil, -defs.EAGAIN
	}
	ptcb.Tid = t.Tid
	ptcb.tcb = t
	if _, ok := pt.tids.Set(int32(t.Tid), ptcb); !ok {
		panic("tid exists")
	}

	p.Thread_mx.Lock(cur)
	p.threads = append(p.threads, ptcb)
	p.thread_count++
	if ismain {
		p.main = ptcb
	}
	p.Thread_mx.Unlock()
	pt.Stats.Nptcb.Inc()

	t.Wakeup()
	return ptcb, 0
}

// returns the new thread's tid or NOTHREAD
func (pt *Ptable_t) Sys_CreateThread(cur *sched.Tcb_t, task Task_t, argl int,
	args []uint8) (defs.Tid_t, defs.Err_t) {
	ptcb, err := pt.mkthread(cur, CurrentProc(cur), task, argl, args, false)
	if err != 0 {
		return defs.NOTHREAD, err
	}
	return ptcb.Tid, 0
}

func (pt *Ptable_t) Sys_ThreadSelf(cur *sched.Tcb_t) defs.Tid_t {
	return cur.Tid
}

// must hold p.Thread_mx; a record found this way cannot be released until
// Thread_mx is dropped.
func (pt *Ptable_t) ptcb_lookup(p *Proc_t, tid defs.Tid_t) (*Ptcb_t, bool) {
	v, ok := pt.tids.Get(int32(tid))
	if !ok {
		return nil, false
	}
	ptcb := v.(*Ptcb_t)
	if ptcb.owner != p || ptcb.released {
		return nil, false
	}
	return ptcb, true
}

// must hold owner.Thread_mx. the record goes away once its thread has
// finished and the last joiner has left.
func (pt *Ptable_t) ptcb_put(ptcb *Ptcb_t) {
	if !ptcb.finished || ptcb.refcount != 0 {
		return
	}
	if ptcb.released {
		panic("ptcb released twice")
	}
	ptcb.released = true
	pt.tids.Del(int32(ptcb.Tid))
	pt.Stats.Nptcbfree.Inc()
}

// must hold p.Thread_mx. takes ptcb off the thread list.
func (pt *Ptable_t) ptcb_finish(p *Proc_t, ptcb *Ptcb_t) {
	for i, o := range p.threads {
		if o == ptcb {
			copy(p.threads[i:], p.threads[i+1:])
			p.threads[len(p.threads)-1] = nil
			p.threads = p.threads[:len(p.threads)-1]
			break
		}
	}
	p.thread_count--
	if p.thread_count < 0 {
		panic("neg threads")
	}
	ptcb.finished = true
	ptcb.tcb = nil
	ptcb.exit_cv.Broadcast()
	pt.ptcb_put(ptcb)
}

// waits for thread tid of the caller's process to exit and stores its exit
// value in exitval, if not nil.
func (pt *Ptable_t) Sys_ThreadJoin(cur *sched.Tcb_t, tid defs.Tid_t,
	exitval *int) defs.Err_t {
	if tid == cur.Tid {
		return -defs.EDEADLK
	}
	p := CurrentProc(cur)
	p.Thread_mx.Lock(cur)
	defer p.Thread_mx.Unlock()
	ptcb, ok := pt.ptcb_lookup(p, tid)
	if !ok {
		return -defs.ESRCH
	}
	// the main thread stays joinable so that process exit can be awaited
	ismain := ptcb == p.main
	if ptcb.detached && !ismain {
		return -defs.EINVAL
	}
	pt.Stats.Njoin.Inc()
	ptcb.refcount++
	ptcb.joined = true
	ptcb.exit_cv.Broadcast()
	for !ptcb.exited && !(ptcb.detached && !ismain) {
		ptcb.exit_cv.Wait(cur, &p.Thread_mx, sched.SCHED_USER)
	}
	ptcb.refcount--
	var ret defs.Err_t
	if ptcb.detached && !ismain {
		ret = -defs.EINVAL
	} else if exitval != nil {
		*exitval = ptcb.exitval
	}
	pt.ptcb_put(ptcb)
	return ret
}

// marks thread tid detached: no joins may start and current joiners fail.
func (pt *Ptable_t) Sys_ThreadDetach(cur *sched.Tcb_t, tid defs.Tid_t) defs.Err_t {
	p := CurrentProc(cur)
	p.Thread_mx.Lock(cur)
	defer p.Thread_mx.Unlock()
	ptcb, ok := pt.ptcb_lookup(p, tid)
	if !ok {
		return -defs.ESRCH
	}
	if ptcb.exited {
		return -defs.EINVAL
	}
	pt.Stats.Ndetach.Inc()
	ptcb.detached = true
	ptcb.exit_cv.Broadcast()
	return 0
}

// terminates the calling thread; the main thread takes its process with
// it. never returns.
func (pt *Ptable_t) Sys_ThreadExit(cur *sched.Tcb_t, exitval int) {
	p := CurrentProc(cur)
	p.Thread_mx.Lock(cur)
	ptcb, ok := pt.ptcb_lookup(p, cur.Tid)
	if !ok {
		panic("exiting thread has no record")
	}
	if ptcb == p.main {
		p.Thread_mx.Unlock()
		pt.main_exit(cur, p, ptcb, exitval)
	} else {
		pt.thread_exit(cur, p, ptcb, exitval)
	}
	cur.Sleep_releasing(sched.EXITED, nil, sched.SCHED_USER, defs.NO_TIMEOUT)
	panic("exited thread resumed")
}

// sets the exit status of the caller's process and exits the calling
// thread. never returns.
func (pt *Ptable_t) Sys_Exit(cur *sched.Tcb_t, exitval int) {
	p := CurrentProc(cur)
	pt.Procmx.Lock(cur)
	p.exitval = exitval
	p.exitset = true
	pt.Procmx.Unlock()
	pt.Sys_ThreadExit(cur, exitval)
}

// a non-main thread: must hold p.Thread_mx; drops it.
func (pt *Ptable_t) thread_exit(cur *sched.Tcb_t, p *Proc_t, ptcb *Ptcb_t,
	exitval int) {
	ptcb.exitval = exitval
	ptcb.exited = true
	ptcb.exit_cv.Broadcast()
	// a joinable thread waits for its first joiner; process exit joins
	// every thread
	for !ptcb.joined && !ptcb.detached {
		ptcb.exit_cv.Wait(cur, &p.Thread_mx, sched.SCHED_USER)
	}
	p.Atime.Add(&cur.Atime)
	pt.ptcb_finish(p, ptcb)
	p.Thread_mx.Unlock()
	log.WithFields(log.Fields{"pid": p.Pid, "tid": cur.Tid,
		"status": exitval}).Debug("thread exit")
}

// the main thread: drains the thread list, then terminates the process.
func (pt *Ptable_t) main_exit(cur *sched.Tcb_t, p *Proc_t, ptcb *Ptcb_t,
	exitval int) {
	// init outlives all of its children
	if p == pt.initproc(cur) {
		for {
			_, err := pt.Sys_WaitChild(cur, defs.NOPROC, nil)
			if err != 0 {
				break
			}
		}
	}

	p.Thread_mx.Lock(cur)
	ptcb.exitval = exitval
	ptcb.exited = true
	ptcb.exit_cv.Broadcast()
	for {
		var o *Ptcb_t
		for _, t := range p.threads {
			if t != ptcb {
				o = t
				break
			}
		}
		if o == nil {
			break
		}
		o.refcount++
		o.joined = true
		o.exit_cv.Broadcast()
		for !o.finished {
			o.exit_cv.Wait(cur, &p.Thread_mx, sched.SCHED_USER)
		}
		o.refcount--
		pt.ptcb_put(o)
	}
	p.Atime.Add(&cur.Atime)
	pt.ptcb_finish(p, ptcb)
	p.Thread_mx.Unlock()

	pt.Procmx.Lock(cur)
	if !p.exitset {
		p.exitval = exitval
	}
	pt.Procmx.Unlock()
	pt.terminate(cur, p)
}

func (pt *Ptable_t) initproc(cur *sched.Tcb_t) *Proc_t {
	pt.Procmx.Lock(cur)
	defer pt.Procmx.Unlock()
	return pt.init
}
