package circbuf

// a circular byte buffer. not thread-safe; the owner serializes access.
type Circbuf_t struct {
	Buf   []uint8
	bufsz int
	// head is the next byte to write, tail the next byte to read. both
	// only increase; the buffer index is taken modulo bufsz.
	head int
	tail int
}

func (cb *Circbuf_t) Bufsz() int {
	return cb.bufsz
}

// the buffer is lazily allocated by the first write.
func (cb *Circbuf_t) Cb_init(sz int) {
	if sz <= 0 {
		panic("bad circbuf size")
	}
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) Cb_release() {
	cb.Buf = nil
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) Cb_ensure() {
	if cb.Buf != nil {
		return
	}
	if cb.bufsz == 0 {
		panic("not initted")
	}
	cb.Buf = make([]uint8, cb.bufsz)
}

func (cb *Circbuf_t) Full() bool {
	return cb.head-cb.tail == cb.bufsz
}

func (cb *Circbuf_t) Empty() bool {
	return cb.head == cb.tail
}

func (cb *Circbuf_t) Left() int {
	used := cb.head - cb.tail
	rem := cb.bufsz - used
	return rem
}

func (cb *Circbuf_t) Used() int {
	used := cb.head - cb.tail
	return used
}

// copies as much of src as fits and returns the number of bytes copied.
func (cb *Circbuf_t) Copyin(src []uint8) int {
	cb.Cb_ensure()
	c := 0
	for len(src) > 0 && !cb.Full() {
		hi := cb.head % cb.bufsz
		ti := cb.tail % cb.bufsz
		end := cb.bufsz
		if ti > hi {
			end = ti
		}
		n := copy(cb.Buf[hi:end], src)
		cb.head += n
		src = src[n:]
		c += n
	}
	return c
}

// copies up to len(dst) buffered bytes out and returns the count.
func (cb *Circbuf_t) Copyout(dst []uint8) int {
	if cb.Buf == nil {
		return 0
	}
	c := 0
	for len(dst) > 0 && !cb.Empty() {
		hi := cb.head % cb.bufsz
		ti := cb.tail % cb.bufsz
		end := cb.bufsz
		if hi > ti {
			end = hi
		}
		n := copy(dst, cb.Buf[ti:end])
		cb.tail += n
		dst = dst[n:]
		c += n
	}
	return c
}
