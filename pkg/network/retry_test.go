package network

import (
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	r := NewRetry()
	var waits []time.Duration
	for i := 0; i < 7; i++ {
		waits = append(waits, r.Fail())
	}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i := range want {
		if waits[i] != want[i]*time.Second {
			t.Errorf("attempt %v: %v != %v", i, waits[i], want[i]*time.Second)
		}
	}
	if !r.Failed() {
		t.Errorf("should be failed")
	}
	r.Success()
	if r.Failed() || r.Time() != time.Second {
		t.Errorf("not reset %+v", r)
	}
}
