package stats

import "reflect"
import "sync/atomic"
import "strconv"
import "strings"
import "time"

const Stats = true
const Timing = false

var boot = time.Now()

func Rdtsc() uint64 {
	if Timing {
		return uint64(time.Since(boot))
	} else {
		return 0
	}
}

type Counter_t int64
type Cycles_t int64

func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

func (c *Cycles_t) Add(m uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(Rdtsc()-m))
	}
}

func (c *Cycles_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// st must be a pointer to a struct; only its Counter_t and Cycles_t fields
// are printed.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.Indirect(reflect.ValueOf(st))
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		name := v.Type().Field(i).Name
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Addr().Interface().(*Counter_t).Get()
			s += "\n\t#" + name + ": " + strconv.FormatInt(n, 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Addr().Interface().(*Cycles_t).Get()
			s += "\n\t#" + name + ": " + strconv.FormatInt(n, 10)
		}
	}
	return s + "\n"
}
