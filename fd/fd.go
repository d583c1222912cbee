package fd

import "github.com/dnikolaidis2/disasteros/defs"
import "github.com/dnikolaidis2/disasteros/fdops"
import "github.com/dnikolaidis2/disasteros/sched"

const (
	FD_READ  = 0x1
	FD_WRITE = 0x2
)

type Fd_t struct {
	// fops is an interface implemented via a "pointer receiver", thus fops
	// is a reference, not a value
	Fops  fdops.Fdops_i
	Perms int
}

func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

func Close_panic(cur *sched.Tcb_t, f *Fd_t) {
	if f.Fops.Close(cur) != 0 {
		panic("must succeed")
	}
}
