package circbuf

import "bytes"
import "testing"

func TestWrap(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(8)
	if n := cb.Copyin([]uint8("abcdef")); n != 6 {
		t.Fatalf("copyin %v", n)
	}
	out := make([]uint8, 4)
	if n := cb.Copyout(out); n != 4 || string(out) != "abcd" {
		t.Fatalf("copyout %v %q", n, out)
	}
	// wraps around the end of the buffer
	if n := cb.Copyin([]uint8("ghijklmnop")); n != 6 {
		t.Fatalf("copyin %v", n)
	}
	if !cb.Full() || cb.Left() != 0 || cb.Used() != 8 {
		t.Fatalf("not full: used %v left %v", cb.Used(), cb.Left())
	}
	big := make([]uint8, 16)
	n := cb.Copyout(big)
	if n != 8 || !bytes.Equal(big[:n], []uint8("efghijkl")) {
		t.Fatalf("copyout %v %q", n, big[:n])
	}
	if !cb.Empty() {
		t.Fatalf("not empty")
	}
}

func TestLazy(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4)
	if cb.Buf != nil {
		t.Fatalf("eager alloc")
	}
	if n := cb.Copyout(make([]uint8, 4)); n != 0 {
		t.Fatalf("read from empty %v", n)
	}
	cb.Copyin([]uint8{1})
	if cb.Buf == nil {
		t.Fatalf("no alloc")
	}
	cb.Cb_release()
	if cb.Buf != nil || !cb.Empty() {
		t.Fatalf("release")
	}
}
