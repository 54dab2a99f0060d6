package vm

import (
	"errors"
	"testing"
)

func TestObjTag(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	if got := h.ObjTag(FromInt(3)); got != IntTag {
		t.Errorf("ObjTag(int) = %d, want %d", got, IntTag)
	}
	if got := h.ObjTag(h.CopyString("s")); got != int(StringTag) {
		t.Errorf("ObjTag(young string) = %d, want %d", got, StringTag)
	}
	if got := h.ObjTag(h.AllocLarge(MaxYoungWosize+1, 7)); got != 7 {
		t.Errorf("ObjTag(old block) = %d, want 7", got)
	}
	if got := h.ObjTag(h.Atom(12)); got != 12 {
		t.Errorf("ObjTag(atom) = %d, want 12", got)
	}
	if got := h.ObjTag(FromAddr(0x8)); got != OutOfHeapTag {
		t.Errorf("ObjTag(unknown pointer) = %d, want %d", got, OutOfHeapTag)
	}
}

func TestNewBlockAndSetTag(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	b, err := h.NewBlock(5, 3)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	if h.Tag(b) != 5 || h.Wosize(b) != 3 {
		t.Errorf("NewBlock(5, 3) header = %v", h.Header(b))
	}
	for i := 0; i < 3; i++ {
		if h.Field(b, i) != Unit {
			t.Errorf("field %d not initialized", i)
		}
	}
	h.SetTag(b, 9)
	if h.Tag(b) != 9 || h.Wosize(b) != 3 {
		t.Errorf("after SetTag header = %v", h.Header(b))
	}

	if a, _ := h.NewBlock(4, 0); a != h.Atom(4) {
		t.Error("NewBlock(4, 0) should return the atom")
	}
	if _, err := h.NewBlock(0, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewBlock(0, -1) err = %v, want ErrInvalidArgument", err)
	}
}

func TestDuplicate(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	if got := h.Duplicate(FromInt(9)); got != FromInt(9) {
		t.Error("Duplicate of an immediate should return it")
	}
	if got := h.Duplicate(h.Atom(3)); got != h.Atom(3) {
		t.Error("Duplicate of an atom should return it")
	}

	t.Run("small", func(t *testing.T) {
		orig := h.AllocSmall(3, 4)
		frame := h.PushRoots(&orig)
		defer frame.Release()
		for i := 0; i < 3; i++ {
			h.InitializeField(orig, i, FromInt(int64(i*10)))
		}
		dup := h.Duplicate(orig)
		if dup == orig {
			t.Fatal("Duplicate returned the same block")
		}
		if h.Tag(dup) != 4 || h.Wosize(dup) != 3 {
			t.Errorf("dup header = %v", h.Header(dup))
		}
		h.ModifyField(dup, 1, FromInt(99))
		if h.Field(orig, 1) != FromInt(10) {
			t.Error("writing the copy changed the original")
		}
	})

	t.Run("large", func(t *testing.T) {
		orig := h.AllocLarge(MaxYoungWosize+5, 0)
		frame := h.PushRoots(&orig)
		defer frame.Release()
		h.ModifyField(orig, 0, h.CopyString("kept"))
		dup := h.Duplicate(orig)
		if !h.IsInHeap(dup) {
			t.Fatal("large duplicate should be old")
		}
		dframe := h.PushRoots(&dup)
		defer dframe.Release()
		h.MinorCollection()
		if h.StringVal(h.Field(dup, 0)) != "kept" {
			t.Error("young field of the copy was not remembered")
		}
		h.ModifyField(dup, 1, FromInt(1))
		if h.Field(orig, 1) != Unit {
			t.Error("writing the copy changed the original")
		}
	})

	t.Run("raw", func(t *testing.T) {
		s := h.CopyString("bytes and more bytes")
		dup := h.Duplicate(s)
		if dup == s || h.StringVal(dup) != "bytes and more bytes" {
			t.Errorf("Duplicate(string) = %q", h.StringVal(dup))
		}
	})
}

func TestTruncate(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	a, _ := h.MakeVector(8, FromInt(1))
	frame := h.PushRoots(&a)
	defer frame.Release()

	if err := h.Truncate(a, 8); err != nil {
		t.Errorf("Truncate to the same size: %v", err)
	}
	for _, n := range []int64{0, -1, 9} {
		if err := h.Truncate(a, n); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Truncate(%d) err = %v, want ErrInvalidArgument", n, err)
		}
	}
	if err := h.Truncate(a, 3); err != nil {
		t.Fatalf("Truncate(3): %v", err)
	}
	if got := h.ArrayLength(a); got != 3 {
		t.Errorf("ArrayLength = %d, want 3", got)
	}
	filler := DecodeHeader(uint64(h.Field(a, 3)))
	if filler.Tag != fillerTag || filler.Wosize != 4 {
		t.Errorf("filler header = %v, want 4 words of tag %d", filler, fillerTag)
	}

	// The truncated block and its filler must survive both collections.
	h.MinorCollection()
	h.MajorCollection()
	if got := h.ArrayLength(a); got != 3 {
		t.Errorf("ArrayLength after collections = %d, want 3", got)
	}
	if v, _ := h.ArrayGet(a, 2); v != FromInt(1) {
		t.Errorf("element 2 = %d, want 1", v.Int())
	}
}

func TestTruncateOldBlockIsSwept(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	a, _ := h.MakeVector(MaxYoungWosize+100, FromInt(1))
	frame := h.PushRoots(&a)
	defer frame.Release()
	if err := h.Truncate(a, 10); err != nil {
		t.Fatal(err)
	}
	h.MajorCollection()
	if got := h.Stats().LiveWords; got != 11 {
		t.Errorf("LiveWords = %d, want 11", got)
	}
}

func TestTruncateFloatArray(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	a, _ := h.MakeVector(6, h.CopyDouble(2))
	if err := h.Truncate(a, 2); err != nil {
		t.Fatal(err)
	}
	if got := h.ArrayLength(a); got != 2 {
		t.Errorf("ArrayLength = %d, want 2", got)
	}
}

func TestLazyForward(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())

	target := h.CopyString("target")
	fwd := h.LazyMakeForward(target)
	if h.Tag(fwd) != ForwardTag {
		t.Fatalf("tag = %d, want ForwardTag", h.Tag(fwd))
	}
	got := h.LazyFollowForward(fwd)
	if h.StringVal(got) != "target" {
		t.Errorf("LazyFollowForward = %q", h.StringVal(got))
	}
	if h.LazyFollowForward(got) != got {
		t.Error("following a non-forward block should return it")
	}
	if h.LazyFollowForward(FromInt(4)) != FromInt(4) {
		t.Error("following an immediate should return it")
	}
}
