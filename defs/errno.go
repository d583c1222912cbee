package defs

const (
	EPERM     Err_t = 1
	ESRCH     Err_t = 3
	EINTR     Err_t = 4
	EBADF     Err_t = 9
	ECHILD    Err_t = 10
	EAGAIN    Err_t = 11
	ENOMEM    Err_t = 12
	EBUSY     Err_t = 16
	EINVAL    Err_t = 22
	EMFILE    Err_t = 24
	EPIPE     Err_t = 32
	EDEADLK   Err_t = 35
	ENOSYS    Err_t = 38
	ETIMEDOUT Err_t = 110
)

type Err_t int

var errstr = map[Err_t]string{
	EPERM:     "EPERM",
	ESRCH:     "ESRCH",
	EINTR:     "EINTR",
	EBADF:     "EBADF",
	ECHILD:    "ECHILD",
	EAGAIN:    "EAGAIN",
	ENOMEM:    "ENOMEM",
	EBUSY:     "EBUSY",
	EINVAL:    "EINVAL",
	EMFILE:    "EMFILE",
	EPIPE:     "EPIPE",
	EDEADLK:   "EDEADLK",
	ENOSYS:    "ENOSYS",
	ETIMEDOUT: "ETIMEDOUT",
}

// String accepts both the positive errno and the negated form returned by
// system calls.
func (e Err_t) String() string {
	n := e
	if n < 0 {
		n = -n
	}
	if s, ok := errstr[n]; ok {
		if e < 0 {
			return "-" + s
		}
		return s
	}
	if e == 0 {
		return "OK"
	}
	return "errno?"
}
