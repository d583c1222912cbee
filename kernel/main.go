package main

import "flag"
import "fmt"
import "os"
import "runtime"
import "time"

import log "github.com/sirupsen/logrus"

import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/ksync"
import "github.com/dnikolaidis2/disasteros/limits"
import "github.com/dnikolaidis2/disasteros/pipe"
import "github.com/dnikolaidis2/disasteros/proc"
import "github.com/dnikolaidis2/disasteros/sched"
import "github.com/dnikolaidis2/disasteros/stats"

var ptable *proc.Ptable_t

// a bounded buffer between producer and consumer threads of one process
type bbuf_t struct {
	mx       ksync.Mutex_t
	notempty ksync.Cond_t
	notfull  ksync.Cond_t
	items    []int
	max      int
	done     bool
	// timed waits that expired
	ntimeout int
}

func (b *bbuf_t) put(cur *sched.Tcb_t, v int) {
	b.mx.Lock(cur)
	for len(b.items) == b.max {
		b.notfull.Wait(cur, &b.mx, sched.SCHED_USER)
	}
	b.items = append(b.items, v)
	b.notempty.Signal()
	b.mx.Unlock()
}

// returns false once the buffer is drained and closed
func (b *bbuf_t) get(cur *sched.Tcb_t) (int, bool) {
	b.mx.Lock(cur)
	defer b.mx.Unlock()
	for len(b.items) == 0 {
		if b.done {
			return 0, false
		}
		if !b.notempty.Timedwait(cur, &b.mx, sched.SCHED_USER,
			5*time.Millisecond) {
			b.ntimeout++
		}
	}
	v := b.items[0]
	b.items = b.items[1:]
	b.notfull.Signal()
	return v, true
}

func (b *bbuf_t) close(cur *sched.Tcb_t) {
	b.mx.Lock(cur)
	b.done = true
	b.notempty.Broadcast()
	b.mx.Unlock()
}

// burns cpu, giving the timer a chance to preempt
func spin(cur *sched.Tcb_t, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += i % 7
		if i%1024 == 0 {
			cur.Preempt_point()
		}
	}
	return sum
}

// the producer process writes nmsg records to the pipe it inherited on fd
// argl and exits with the number of bytes written.
func producer(cur *sched.Tcb_t, argl int, args []uint8) int {
	nmsg := int(args[0])
	tot := 0
	for i := 0; i < nmsg; i++ {
		msg := []uint8(fmt.Sprintf("msg %03d\n", i))
		n, err := ptable.Sys_Write(cur, argl, msg)
		if err != 0 {
			log.WithFields(log.Fields{"err": err}).Warn("producer write")
			break
		}
		tot += n
	}
	return tot
}

func pipetest(cur *sched.Tcb_t, nmsg int) {
	rfd, wfd, err := ptable.Sys_Pipe(cur)
	if err != 0 {
		panic(fmt.Sprintf("pipe failed %v", err))
	}
	pid, err := ptable.Exec(cur, "producer", producer, wfd,
		[]uint8{uint8(nmsg)})
	if err != 0 {
		panic(fmt.Sprintf("exec failed %v", err))
	}
	// the child holds its own copy of the write end
	ptable.Sys_Close(cur, wfd)
	got := 0
	buf := make([]uint8, 64)
	for {
		n, err := ptable.Sys_Read(cur, rfd, buf)
		if err != 0 {
			panic(fmt.Sprintf("read failed %v", err))
		}
		if n == 0 {
			break
		}
		got += n
	}
	ptable.Sys_Close(cur, rfd)
	var status int
	ptable.Sys_WaitChild(cur, pid, &status)
	fmt.Printf("pipe: read %v bytes, producer wrote %v\n", got, status)
}

// the worker process: producer/consumer threads over a bounded buffer plus
// cpu-bound threads that are joined or detached.
func worker(cur *sched.Tcb_t, argl int, args []uint8) int {
	nthreads := argl
	b := &bbuf_t{max: 4}
	var cons []defs.Tid_t
	for i := 0; i < 2; i++ {
		tid, err := ptable.Sys_CreateThread(cur, func(cur *sched.Tcb_t,
			argl int, args []uint8) int {
			sum := 0
			for {
				v, ok := b.get(cur)
				if !ok {
					return sum
				}
				sum += v
			}
		}, 0, nil)
		if err != 0 {
			panic(fmt.Sprintf("create failed %v", err))
		}
		cons = append(cons, tid)
	}

	var spinners []defs.Tid_t
	for i := 0; i < nthreads; i++ {
		tid, err := ptable.Sys_CreateThread(cur, func(cur *sched.Tcb_t,
			argl int, args []uint8) int {
			return spin(cur, argl)
		}, 100000*(i+1), nil)
		if err != 0 {
			log.WithFields(log.Fields{"err": err}).Warn("create")
			continue
		}
		spinners = append(spinners, tid)
	}

	want := 0
	for i := 1; i <= 100; i++ {
		b.put(cur, i)
		want += i
	}
	b.close(cur)

	got := 0
	for _, tid := range cons {
		var v int
		if err := ptable.Sys_ThreadJoin(cur, tid, &v); err != 0 {
			panic(fmt.Sprintf("join failed %v", err))
		}
		got += v
	}
	if got != want {
		panic(fmt.Sprintf("consumers summed %v, want %v", got, want))
	}

	// every other spinner is detached; the rest are joined. exit drains
	// whatever is still running.
	for i, tid := range spinners {
		if i%2 == 1 {
			ptable.Sys_ThreadDetach(cur, tid)
			continue
		}
		ptable.Sys_ThreadJoin(cur, tid, nil)
	}
	fmt.Printf("worker %v: %v timed waits expired\n",
		ptable.Sys_GetPid(cur), b.ntimeout)
	return got % 256
}

func initmain(cur *sched.Tcb_t, argl int, args []uint8) int {
	nworkers := argl
	nthreads := int(args[0])
	start := ptable.Sched().Now()
	for i := 0; i < nworkers; i++ {
		_, err := ptable.Exec(cur, fmt.Sprintf("worker%d", i), worker,
			nthreads, nil)
		if err != 0 {
			log.WithFields(log.Fields{"err": err}).Warn("exec")
		}
	}
	pipetest(cur, 50)
	for {
		var status int
		pid, err := ptable.Sys_WaitChild(cur, defs.NOPROC, &status)
		if err != 0 {
			break
		}
		fmt.Printf("reaped %v, status %v\n", pid, status)
	}
	p := proc.CurrentProc(cur)
	user, sys := p.Catime.Fetch()
	fmt.Printf("init done in %v; children used %v user %v sys\n",
		ptable.Sched().Now()-start, user, sys)
	return 0
}

func main() {
	lim := limits.MkSysLimit()
	cores := flag.Int("cores", runtime.NumCPU(), "number of cores")
	quantum := flag.Duration("quantum", lim.Quantum, "scheduling quantum")
	workers := flag.Int("workers", 3, "worker processes")
	nthreads := flag.Int("threads", 8, "cpu-bound threads per worker")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *nthreads > 255 {
		fmt.Fprintf(os.Stderr, "at most 255 threads per worker\n")
		os.Exit(2)
	}
	lim.Cores = *cores
	lim.Quantum = *quantum

	fmt.Printf("              DisasterOS\n")
	fmt.Printf("          go version: %v\n", runtime.Version())
	fmt.Printf("  %v cores, %v quantum, %v queues\n", lim.Cores, lim.Quantum,
		lim.Queues)

	s := sched.Mksched(lim, nil)
	ptable = proc.Mkptable(s, lim)
	if _, err := ptable.Exec(nil, "init", initmain, *workers,
		[]uint8{uint8(*nthreads)}); err != 0 {
		panic(fmt.Sprintf("init failed %v", err))
	}
	s.Run()

	fmt.Printf("sched:%v\n", s.Stats2String())
	fmt.Printf("proc:%v\n", stats.Stats2String(&ptable.Stats))
	fmt.Printf("pipe:%v\n", stats.Stats2String(&pipe.Stats))
}
