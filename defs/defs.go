package defs

import "time"

type Tid_t int

type Pid_t int

// returned by thread creation on failure
const NOTHREAD Tid_t = 0

// no process; also "any child" for WaitChild
const NOPROC Pid_t = -1

// a sleep without a deadline
const NO_TIMEOUT time.Duration = -1

// per-process fd table size
const MAX_FILEID = 16

// platform page size; thread blocks are a multiple of it
const PGSIZE = 1 << 12
