package defs

import "testing"

func TestErrString(t *testing.T) {
	if s := ESRCH.String(); s != "ESRCH" {
		t.Fatalf("got %v", s)
	}
	if s := (-EDEADLK).String(); s != "-EDEADLK" {
		t.Fatalf("got %v", s)
	}
	if s := Err_t(0).String(); s != "OK" {
		t.Fatalf("got %v", s)
	}
	if s := Err_t(4242).String(); s != "errno?" {
		t.Fatalf("got %v", s)
	}
}
