package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Checked access
// ---------------------------------------------------------------------------

func TestArrayGetSet(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	a, err := h.MakeVector(5, Unit)
	if err != nil {
		t.Fatalf("MakeVector: %v", err)
	}
	if got := h.ArrayLength(a); got != 5 {
		t.Fatalf("ArrayLength = %d, want 5", got)
	}
	if err := h.ArraySet(a, 2, FromInt(7)); err != nil {
		t.Fatalf("ArraySet: %v", err)
	}
	v, err := h.ArrayGet(a, 2)
	if err != nil || v != FromInt(7) {
		t.Errorf("ArrayGet(2) = %v, %v; want 7", v.Int(), err)
	}
	if _, err := h.ArrayGet(a, 5); !errors.Is(err, ErrIndexOutOfBounds) {
		t.Errorf("ArrayGet(5) err = %v, want ErrIndexOutOfBounds", err)
	}
	if err := h.ArraySet(a, -1, Unit); !errors.Is(err, ErrIndexOutOfBounds) {
		t.Errorf("ArraySet(-1) err = %v, want ErrIndexOutOfBounds", err)
	}
	var pe *PrimitiveError
	if _, err := h.ArrayGet(a, 9); !errors.As(err, &pe) || pe.Op != "Array.get" {
		t.Errorf("ArrayGet(9) err = %v, want PrimitiveError for Array.get", err)
	}
}

func TestFloatArray(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	init := h.CopyDouble(1.5)
	a, err := h.MakeVector(4, init)
	if err != nil {
		t.Fatalf("MakeVector: %v", err)
	}
	if h.Tag(a) != DoubleArrayTag {
		t.Fatalf("tag = %d, want DoubleArrayTag", h.Tag(a))
	}
	if got := h.ArrayLength(a); got != 4 {
		t.Errorf("ArrayLength = %d, want 4", got)
	}

	d := h.CopyDouble(-2.25)
	if err := h.ArraySet(a, 3, d); err != nil {
		t.Fatalf("ArraySet: %v", err)
	}
	v, err := h.ArrayGet(a, 3)
	if err != nil {
		t.Fatalf("ArrayGet: %v", err)
	}
	if got := h.DoubleVal(v); got != -2.25 {
		t.Errorf("ArrayGet(3) = %v, want -2.25", got)
	}
	v, _ = h.ArrayGet(a, 0)
	if got := h.DoubleVal(v); got != 1.5 {
		t.Errorf("ArrayGet(0) = %v, want 1.5", got)
	}

	if err := h.ArraySet(a, 0, FromInt(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("storing an int into a float array: err = %v, want ErrInvalidArgument", err)
	}
}

// ---------------------------------------------------------------------------
// MakeVector
// ---------------------------------------------------------------------------

func TestMakeVector(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	t.Run("empty", func(t *testing.T) {
		a, err := h.MakeVector(0, FromInt(1))
		if err != nil {
			t.Fatal(err)
		}
		if a != h.Atom(0) {
			t.Error("MakeVector(0) should return the atom for tag 0")
		}
	})

	t.Run("negative", func(t *testing.T) {
		if _, err := h.MakeVector(-1, Unit); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("small int", func(t *testing.T) {
		a, err := h.MakeVector(10, FromInt(3))
		if err != nil {
			t.Fatal(err)
		}
		if !h.IsYoung(a) {
			t.Error("small vector should be young")
		}
		for i := int64(0); i < 10; i++ {
			if v, _ := h.ArrayGet(a, i); v != FromInt(3) {
				t.Fatalf("element %d = %d, want 3", i, v.Int())
			}
		}
	})

	t.Run("large old init", func(t *testing.T) {
		init := h.AllocLarge(MaxYoungWosize+1, 0)
		a, err := h.MakeVector(MaxYoungWosize+10, init)
		if err != nil {
			t.Fatal(err)
		}
		if !h.IsInHeap(a) {
			t.Fatal("large vector should be old")
		}
		if got := h.ArrayLength(a); got != MaxYoungWosize+10 {
			t.Errorf("ArrayLength = %d", got)
		}
		if v := h.ArrayUnsafeGet(a, MaxYoungWosize+9); v != init {
			t.Error("last element should be the init block")
		}
	})

	t.Run("large young init", func(t *testing.T) {
		minors := h.Stats().MinorCollections
		init := h.CopyString("shared")
		a, err := h.MakeVector(MaxYoungWosize+1, init)
		if err != nil {
			t.Fatal(err)
		}
		if h.Stats().MinorCollections != minors+1 {
			t.Error("a young init should force a minor collection")
		}
		if h.Remembered() != 0 {
			t.Errorf("Remembered = %d, want 0", h.Remembered())
		}
		first := h.ArrayUnsafeGet(a, 0)
		if !h.IsInHeap(first) || h.StringVal(first) != "shared" {
			t.Error("elements should point to the promoted init")
		}
		if h.ArrayUnsafeGet(a, MaxYoungWosize) != first {
			t.Error("all elements should share one init block")
		}
	})
}

func TestMakeArray(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	boxed := h.AllocSmall(3, 0)
	frame := h.PushRoots(&boxed)
	defer frame.Release()
	for i, d := range []float64{0.5, 1.5, 2.5} {
		h.InitializeField(boxed, i, h.CopyDouble(d))
	}
	flat := h.MakeArray(boxed)
	if h.Tag(flat) != DoubleArrayTag {
		t.Fatalf("tag = %d, want DoubleArrayTag", h.Tag(flat))
	}
	for i, want := range []float64{0.5, 1.5, 2.5} {
		if got := h.DoubleField(flat, i); got != want {
			t.Errorf("element %d = %v, want %v", i, got, want)
		}
	}

	ints, _ := h.MakeVector(3, FromInt(1))
	if h.MakeArray(ints) != ints {
		t.Error("MakeArray should return a non-float array unchanged")
	}
	if h.MakeArray(h.Atom(0)) != h.Atom(0) {
		t.Error("MakeArray should return an empty array unchanged")
	}
}
