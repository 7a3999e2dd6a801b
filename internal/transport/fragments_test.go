package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/raidscope/raidscope/internal/protocol"
)

func TestFragmentsOutOfOrder(t *testing.T) {
	a := NewFragmentAssembler(0)
	parts := map[byte][]byte{0: []byte("aa"), 1: []byte("bbb"), 2: []byte("c")}

	for _, idx := range []byte{1, 0} {
		out, done, err := a.Add(true, 1, Fragment{ID: 7, Index: idx, Total: 3, Data: parts[idx]})
		if err != nil || done || out != nil {
			t.Fatalf("index %d: expected pending, got done=%v err=%v", idx, done, err)
		}
	}
	out, done, err := a.Add(true, 1, Fragment{ID: 7, Index: 2, Total: 3, Data: parts[2]})
	if err != nil || !done {
		t.Fatalf("expected completion on index 2, got done=%v err=%v", done, err)
	}
	if string(out) != "aabbbc" {
		t.Errorf("expected aabbbc, got %q", out)
	}
	if a.Pending() != 0 {
		t.Errorf("expected completed group removed, %d pending", a.Pending())
	}
}

func TestFragmentsOrderIndependent(t *testing.T) {
	orders := [][]byte{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}}
	for _, order := range orders {
		a := NewFragmentAssembler(0)
		var got []byte
		for i, idx := range order {
			out, done, err := a.Add(false, 0, Fragment{ID: 1, Index: idx, Total: 4, Data: []byte{idx, idx}})
			if err != nil {
				t.Fatal(err)
			}
			if done != (i == len(order)-1) {
				t.Fatalf("order %v: unexpected done=%v at step %d", order, done, i)
			}
			got = out
		}
		if !bytes.Equal(got, []byte{0, 0, 1, 1, 2, 2, 3, 3}) {
			t.Errorf("order %v: got % x", order, got)
		}
	}
}

func TestFragmentsMissingNeverCompletes(t *testing.T) {
	a := NewFragmentAssembler(0)
	for i := 0; i < 5; i++ {
		for _, idx := range []byte{0, 2} {
			_, done, err := a.Add(true, 2, Fragment{ID: 3, Index: idx, Total: 3, Data: []byte{idx}})
			if err != nil || done {
				t.Fatalf("expected incomplete group, got done=%v err=%v", done, err)
			}
		}
	}
	if a.Pending() != 1 {
		t.Errorf("expected 1 pending group, got %d", a.Pending())
	}
}

func TestFragmentsKeyedByDirectionAndChannel(t *testing.T) {
	a := NewFragmentAssembler(0)
	a.Add(true, 0, Fragment{ID: 1, Index: 0, Total: 2, Data: []byte("in")})
	a.Add(false, 0, Fragment{ID: 1, Index: 0, Total: 2, Data: []byte("out")})
	a.Add(true, 1, Fragment{ID: 1, Index: 0, Total: 2, Data: []byte("ch1")})
	out, done, _ := a.Add(false, 0, Fragment{ID: 1, Index: 1, Total: 2, Data: []byte("!")})
	if !done || string(out) != "out!" {
		t.Fatalf("expected out!, got %q done=%v", out, done)
	}
	if a.Pending() != 2 {
		t.Errorf("expected 2 pending groups, got %d", a.Pending())
	}
}

func TestFragmentsMismatch(t *testing.T) {
	a := NewFragmentAssembler(0)
	a.Add(true, 0, Fragment{ID: 9, Index: 0, Total: 2, Data: []byte("x")})

	if _, _, err := a.Add(true, 0, Fragment{ID: 9, Index: 0, Total: 2, Data: []byte("x")}); err != nil {
		t.Fatalf("identical redelivery should be accepted, got %v", err)
	}
	_, _, err := a.Add(true, 0, Fragment{ID: 9, Index: 0, Total: 2, Data: []byte("y")})
	if !errors.Is(err, ErrFragmentMismatch) || !errors.Is(err, protocol.ErrProtocolAnomaly) {
		t.Fatalf("expected ErrFragmentMismatch, got %v", err)
	}
	out, done, _ := a.Add(true, 0, Fragment{ID: 9, Index: 1, Total: 2, Data: []byte("z")})
	if !done || string(out) != "xz" {
		t.Errorf("expected the first chunk kept, got %q", out)
	}
}

func TestFragmentsBadHeader(t *testing.T) {
	a := NewFragmentAssembler(0)
	for _, f := range []Fragment{{ID: 1, Index: 0, Total: 0}, {ID: 1, Index: 3, Total: 3}} {
		if _, _, err := a.Add(true, 0, f); !errors.Is(err, ErrBadFragment) {
			t.Errorf("%+v: expected ErrBadFragment, got %v", f, err)
		}
	}
}

func TestFragmentsStaleEviction(t *testing.T) {
	a := NewFragmentAssembler(0)
	a.Add(true, 0, Fragment{ID: 10, Index: 0, Total: 2, Data: []byte("old")})
	a.Add(true, 0, Fragment{ID: 13, Index: 0, Total: 2, Data: []byte("mid")})
	if a.Pending() != 2 {
		t.Fatalf("expected 2 groups, got %d", a.Pending())
	}

	// 15 is 5 away from 10 and evicts it
	a.Add(true, 0, Fragment{ID: 15, Index: 0, Total: 2, Data: []byte("new")})
	if a.Pending() != 2 || a.Evicted() != 1 {
		t.Fatalf("expected group 10 evicted, pending %d evicted %d", a.Pending(), a.Evicted())
	}

	// a late chunk of the evicted group is discarded
	out, done, err := a.Add(true, 0, Fragment{ID: 10, Index: 1, Total: 2, Data: []byte("!")})
	if err != nil || done || out != nil {
		t.Fatalf("expected stale chunk ignored, got done=%v err=%v", done, err)
	}
	if a.Stale() != 1 || a.Pending() != 2 {
		t.Errorf("expected 1 stale chunk and 2 groups, got %d and %d", a.Stale(), a.Pending())
	}

	// 13 still completes
	out, done, _ = a.Add(true, 0, Fragment{ID: 13, Index: 1, Total: 2, Data: []byte("!")})
	if !done || string(out) != "mid!" {
		t.Errorf("expected mid!, got %q", out)
	}
}

func TestFragmentsOlderGroupsInsideWindow(t *testing.T) {
	tests := []struct {
		name        string
		ids         []byte
		wantPending int
		wantEvicted int
		wantStale   int
	}{
		{"older then too old", []byte{10, 7, 3}, 1, 0, 1},
		{"two older inside window", []byte{10, 8, 6}, 2, 0, 0},
		{"older survives newer arrival", []byte{10, 7, 11}, 2, 0, 0},
		{"newer pushes older out", []byte{10, 7, 12}, 1, 1, 0},
		{"older across wrap", []byte{1, 254, 250}, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewFragmentAssembler(0)
			for _, id := range tt.ids {
				if _, done, err := a.Add(true, 0, Fragment{ID: id, Index: 0, Total: 2, Data: []byte{id}}); err != nil || done {
					t.Fatalf("id %d: expected pending, got done=%v err=%v", id, done, err)
				}
			}
			first := tt.ids[0]
			out, done, err := a.Add(true, 0, Fragment{ID: first, Index: 1, Total: 2, Data: []byte("!")})
			if err != nil || !done {
				t.Fatalf("expected group %d to complete, got done=%v err=%v", first, done, err)
			}
			if want := string([]byte{first}) + "!"; string(out) != want {
				t.Errorf("expected %q, got %q", want, out)
			}
			if a.Pending() != tt.wantPending {
				t.Errorf("expected %d pending, got %d", tt.wantPending, a.Pending())
			}
			if a.Evicted() != tt.wantEvicted {
				t.Errorf("expected %d evicted, got %d", tt.wantEvicted, a.Evicted())
			}
			if a.Stale() != tt.wantStale {
				t.Errorf("expected %d stale, got %d", tt.wantStale, a.Stale())
			}
		})
	}
}

func TestFragmentsStaleAcrossWrap(t *testing.T) {
	a := NewFragmentAssembler(0)
	a.Add(true, 0, Fragment{ID: 254, Index: 0, Total: 2, Data: []byte("a")})
	a.Add(true, 0, Fragment{ID: 1, Index: 0, Total: 2, Data: []byte("b")})
	if a.Pending() != 2 {
		t.Fatalf("254 and 1 are 3 apart, expected both kept, got %d", a.Pending())
	}
	a.Add(true, 0, Fragment{ID: 4, Index: 0, Total: 2, Data: []byte("c")})
	if a.Pending() != 2 || a.Evicted() != 1 {
		t.Errorf("expected 254 evicted, pending %d evicted %d", a.Pending(), a.Evicted())
	}
}

func TestFragmentsGroupCap(t *testing.T) {
	a := NewFragmentAssembler(2)
	for id := byte(0); id < 4; id++ {
		a.Add(true, 0, Fragment{ID: id, Index: 0, Total: 2, Data: []byte{id}})
	}
	if a.Pending() != 2 {
		t.Errorf("expected cap of 2 groups, got %d", a.Pending())
	}
	a.Reset()
	if a.Pending() != 0 {
		t.Errorf("expected reset to clear groups, got %d", a.Pending())
	}
}
