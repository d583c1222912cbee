package proc

import "fmt"

import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/fd"
import "github.com/dnikolaidis2/disasteros/pipe"
import "github.com/dnikolaidis2/disasteros/sched"

// an fd table invariant: every fd must have its file field set. thus the
// caller cannot set an fd's file field without holding fdl. otherwise you will
// race with an exec'ing thread when it copies the fd table.
func (p *Proc_t) Fd_insert(f *fd.Fd_t, perms int) (int, bool) {
	p.Fdl.Lock()
	a, b := p.fd_insert_inner(f, perms)
	p.Fdl.Unlock()
	return a, b
}

func (p *Proc_t) fd_insert_inner(f *fd.Fd_t, perms int) (int, bool) {
	// find free fd
	newfd := p.fdstart
	found := false
	for newfd < len(p.Fds) {
		if p.Fds[newfd] == nil {
			p.fdstart = newfd + 1
			found = true
			break
		}
		newfd++
	}
	if !found {
		return -1, false
	}
	fdn := newfd
	fd := f
	fd.Perms = perms
	if p.Fds[fdn] != nil {
		panic(fmt.Sprintf("new fd exists %d", fdn))
	}
	p.Fds[fdn] = fd
	if fd.Fops == nil {
		panic("wtf!")
	}
	p.nfds++
	return fdn, true
}

// returns the fd numbers and success
func (p *Proc_t) Fd_insert2(f1 *fd.Fd_t, perms1 int,
	f2 *fd.Fd_t, perms2 int) (int, int, bool) {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	var fd2 int
	var ok2 bool
	fd1, ok1 := p.fd_insert_inner(f1, perms1)
	if !ok1 {
		goto out
	}
	fd2, ok2 = p.fd_insert_inner(f2, perms2)
	if !ok2 {
		p.fd_del_inner(fd1)
		goto out
	}
	return fd1, fd2, true
out:
	return 0, 0, false
}

// fdn is not guaranteed to be a sane fd
func (p *Proc_t) Fd_get_inner(fdn int) (*fd.Fd_t, bool) {
	if fdn < 0 || fdn >= len(p.Fds) {
		return nil, false
	}
	ret := p.Fds[fdn]
	ok := ret != nil
	return ret, ok
}

func (p *Proc_t) Fd_get(fdn int) (*fd.Fd_t, bool) {
	p.Fdl.Lock()
	ret, ok := p.Fd_get_inner(fdn)
	p.Fdl.Unlock()
	return ret, ok
}

// fdn is not guaranteed to be a sane fd
func (p *Proc_t) Fd_del(fdn int) (*fd.Fd_t, bool) {
	p.Fdl.Lock()
	a, b := p.fd_del_inner(fdn)
	p.Fdl.Unlock()
	return a, b
}

func (p *Proc_t) fd_del_inner(fdn int) (*fd.Fd_t, bool) {
	if fdn < 0 || fdn >= len(p.Fds) {
		return nil, false
	}
	ret := p.Fds[fdn]
	p.Fds[fdn] = nil
	ok := ret != nil
	if ok {
		p.nfds--
		if p.nfds < 0 {
			panic("neg nfds")
		}
		if fdn < p.fdstart {
			p.fdstart = fdn
		}
	}
	return ret, ok
}

func (p *Proc_t) Nfds() int {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	return p.nfds
}

// a new process starts with copies of its parent's descriptors
func (parent *Proc_t) fd_inherit(child *Proc_t) {
	parent.Fdl.Lock()
	defer parent.Fdl.Unlock()
	for i := range parent.Fds {
		if parent.Fds[i] == nil {
			continue
		}
		nfd, err := fd.Copyfd(parent.Fds[i])
		if err != 0 {
			continue
		}
		child.Fds[i] = nfd
		child.nfds++
	}
}

// closing may block, so the fds are closed after fdl is dropped.
func (p *Proc_t) fd_closeall(cur *sched.Tcb_t) {
	var fds []*fd.Fd_t
	p.Fdl.Lock()
	for i := range p.Fds {
		if f, ok := p.fd_del_inner(i); ok {
			fds = append(fds, f)
		}
	}
	p.Fdl.Unlock()
	for _, f := range fds {
		fd.Close_panic(cur, f)
	}
}

func (pt *Ptable_t) Sys_Close(cur *sched.Tcb_t, fdn int) defs.Err_t {
	f, ok := CurrentProc(cur).Fd_del(fdn)
	if !ok {
		return -defs.EBADF
	}
	return f.Fops.Close(cur)
}

func (pt *Ptable_t) Sys_Read(cur *sched.Tcb_t, fdn int,
	dst []uint8) (int, defs.Err_t) {
	f, ok := CurrentProc(cur).Fd_get(fdn)
	if !ok || f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EBADF
	}
	return f.Fops.Read(cur, dst)
}

func (pt *Ptable_t) Sys_Write(cur *sched.Tcb_t, fdn int,
	src []uint8) (int, defs.Err_t) {
	f, ok := CurrentProc(cur).Fd_get(fdn)
	if !ok || f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	return f.Fops.Write(cur, src)
}

// returns the read and the write descriptor of a new pipe
func (pt *Ptable_t) Sys_Pipe(cur *sched.Tcb_t) (int, int, defs.Err_t) {
	r, w := pipe.Mkpipe(pt.lim.Pipebuf)
	rfd := &fd.Fd_t{Fops: r}
	wfd := &fd.Fd_t{Fops: w}
	p := CurrentProc(cur)
	fd1, fd2, ok := p.Fd_insert2(rfd, fd.FD_READ, wfd, fd.FD_WRITE)
	if !ok {
		fd.Close_panic(cur, rfd)
		fd.Close_panic(cur, wfd)
		return -1, -1, -defs.EMFILE
	}
	return fd1, fd2, 0
}
