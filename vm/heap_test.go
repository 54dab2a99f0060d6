package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/mlrt/vm/mem"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testHeapConfig() HeapConfig {
	return HeapConfig{
		MinorHeapWords:  1024,
		ChunkWords:      4096,
		MajorSliceWords: 1 << 30,
		DebugFill:       true,
	}
}

func newTestHeap(t *testing.T, cfg HeapConfig) *Heap {
	t.Helper()
	h, err := NewHeap(mem.NewSpace(), cfg, NewSegmentRegistry())
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	return h
}

// buildList returns a young list n-1 -> ... -> 0 of two-field cells.
func buildList(h *Heap, n int) Value {
	list := Unit
	frame := h.PushRoots(&list)
	defer frame.Release()
	for i := 0; i < n; i++ {
		cell := h.AllocSmall(2, 0)
		h.InitializeField(cell, 0, FromInt(int64(i)))
		h.InitializeField(cell, 1, list)
		list = cell
	}
	return list
}

func checkList(t *testing.T, h *Heap, list Value, n int) {
	t.Helper()
	for i := n - 1; i >= 0; i-- {
		if list == Unit {
			t.Fatalf("list ended early at %d", i)
		}
		if got := h.Field(list, 0).Int(); got != int64(i) {
			t.Fatalf("cell value = %d, want %d", got, i)
		}
		list = h.Field(list, 1)
	}
	if list != Unit {
		t.Fatal("list longer than expected")
	}
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestHeapConfigValidate(t *testing.T) {
	if err := DefaultHeapConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []HeapConfig{
		{MinorHeapWords: 10, ChunkWords: 4096},
		{MinorHeapWords: 1024, ChunkWords: 1},
		{MinorHeapWords: 1024, ChunkWords: 4096, MaxHeapWords: 100},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, ErrBadHeapConfig) {
			t.Errorf("Validate(%+v) = %v, want ErrBadHeapConfig", cfg, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func TestAllocZeroReturnsAtom(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	v := h.Alloc(0, 5)
	if v != h.Atom(5) {
		t.Fatalf("Alloc(0, 5) = %#x, want atom %#x", uint64(v), uint64(h.Atom(5)))
	}
	if !h.IsStatic(v) || h.IsYoung(v) || h.IsInHeap(v) {
		t.Error("atom should be static only")
	}
	if got := h.Wosize(v); got != 0 {
		t.Errorf("atom size = %d, want 0", got)
	}
	if got := h.Atom(CustomTag); h.Tag(got) != CustomTag {
		t.Errorf("atom tag = %d, want %d", h.Tag(got), CustomTag)
	}
}

func TestAllocSmallIsYoung(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	v := h.Alloc(3, 7)
	if !h.IsYoung(v) {
		t.Fatal("small block should be young")
	}
	if hd := h.Header(v); hd.Wosize != 3 || hd.Tag != 7 {
		t.Errorf("header = %v, want size 3 tag 7", hd)
	}
	for i := 0; i < 3; i++ {
		if got := h.Field(v, i); got != Unit {
			t.Errorf("field %d = %#x, want Unit", i, uint64(got))
		}
	}
	if got := h.YoungUsedWords(); got != 4 {
		t.Errorf("YoungUsedWords = %d, want 4", got)
	}
}

func TestAllocLargeIsOld(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	v := h.Alloc(MaxYoungWosize+1, 0)
	if !h.IsInHeap(v) || h.IsYoung(v) {
		t.Fatal("large block should be in the old generation")
	}
	if got := h.Wosize(v); got != MaxYoungWosize+1 {
		t.Errorf("size = %d, want %d", got, MaxYoungWosize+1)
	}
}

func TestAllocOversizedGetsOwnChunk(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	before := h.Stats().Chunks
	v := h.AllocLarge(10000, NoScanTag)
	if !h.IsInHeap(v) {
		t.Fatal("oversized block should be in the old generation")
	}
	if got := h.Stats().Chunks; got != before+1 {
		t.Errorf("chunks = %d, want %d", got, before+1)
	}
}

func TestStringRoundTrip(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	for n := 0; n < 20; n++ {
		s := strings.Repeat("x", n)
		v := h.CopyString(s)
		if h.Tag(v) != StringTag {
			t.Fatalf("tag = %d, want StringTag", h.Tag(v))
		}
		if got := h.StringVal(v); got != s {
			t.Errorf("StringVal = %q, want %q", got, s)
		}
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	v := h.CopyDouble(2.5)
	if !h.IsDouble(v) {
		t.Fatal("CopyDouble should produce a boxed float")
	}
	if got := h.DoubleVal(v); got != 2.5 {
		t.Errorf("DoubleVal = %v, want 2.5", got)
	}
	if h.IsDouble(FromInt(3)) {
		t.Error("immediate is not a boxed float")
	}
}

// ---------------------------------------------------------------------------
// Minor collection
// ---------------------------------------------------------------------------

func TestMinorCollectionPromotesRoots(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	list := buildList(h, 10)
	frame := h.PushRoots(&list)
	defer frame.Release()

	h.MinorCollection()

	if !h.IsInHeap(list) {
		t.Fatal("rooted list should have been promoted")
	}
	checkList(t, h, list, 10)
	if got := h.YoungUsedWords(); got != 0 {
		t.Errorf("YoungUsedWords = %d, want 0", got)
	}
	s := h.Stats()
	if s.MinorCollections != 1 {
		t.Errorf("MinorCollections = %d, want 1", s.MinorCollections)
	}
	if s.PromotedWords != 30 {
		t.Errorf("PromotedWords = %d, want 30", s.PromotedWords)
	}
}

func TestMinorCollectionDropsGarbage(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	buildList(h, 10)
	h.MinorCollection()
	if got := h.Stats().PromotedWords; got != 0 {
		t.Errorf("PromotedWords = %d, want 0", got)
	}
}

func TestMinorCollectionPreservesSharing(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	a := h.CopyString("shared")
	b := a
	frame := h.PushRoots(&a, &b)
	defer frame.Release()

	h.MinorCollection()

	if a != b {
		t.Errorf("roots diverged after promotion: %#x != %#x", uint64(a), uint64(b))
	}
	if got := h.StringVal(a); got != "shared" {
		t.Errorf("StringVal = %q, want shared", got)
	}
}

func TestGlobalRoots(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	g := h.CopyString("global")
	h.RegisterGlobalRoot(&g)

	h.MinorCollection()
	if !h.IsInHeap(g) || h.StringVal(g) != "global" {
		t.Fatal("global root should have been promoted")
	}

	h.RemoveGlobalRoot(&g)
	h.MajorCollection()
	if got := h.Stats().LiveWords; got != 0 {
		t.Errorf("LiveWords after removing root = %d, want 0", got)
	}
}

func TestRootFrameRelease(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	var a, b, c Value
	outer := h.PushRoots(&a)
	inner := h.PushRoots(&b, &c)
	if got := h.LocalRoots(); got != 3 {
		t.Fatalf("LocalRoots = %d, want 3", got)
	}
	inner.Release()
	if got := h.LocalRoots(); got != 1 {
		t.Errorf("LocalRoots after inner release = %d, want 1", got)
	}
	outer.Release()
	if got := h.LocalRoots(); got != 0 {
		t.Errorf("LocalRoots after outer release = %d, want 0", got)
	}
}

func TestDynGlobalIsRoot(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	const base = 0x4000_0000
	r, err := h.Space().MapAt("unit", base, 4*WordSize)
	if err != nil {
		t.Fatal(err)
	}
	r.SetWord(base, Header{Wosize: 2, Color: Black, Tag: 0}.Word())
	r.SetWord(base+8, uint64(Unit))
	r.SetWord(base+16, uint64(Unit))
	if err := h.static.Add(base, base+3*WordSize); err != nil {
		t.Fatal(err)
	}
	if err := h.RegisterDynGlobal(base + WordSize); err != nil {
		t.Fatalf("RegisterDynGlobal: %v", err)
	}
	g := FromAddr(base + WordSize)
	if !h.IsStatic(g) {
		t.Fatal("registered segment should be static")
	}

	h.ModifyField(g, 0, h.CopyString("unit data"))
	if got := h.Remembered(); got != 1 {
		t.Errorf("Remembered = %d, want 1", got)
	}

	h.MinorCollection()
	f := h.Field(g, 0)
	if !h.IsInHeap(f) {
		t.Fatal("field of dyn global should point to the old generation")
	}
	if got := h.StringVal(f); got != "unit data" {
		t.Errorf("StringVal = %q, want %q", got, "unit data")
	}

	h.MajorCollection()
	if got := h.StringVal(h.Field(g, 0)); got != "unit data" {
		t.Errorf("after major: StringVal = %q, want %q", got, "unit data")
	}
}

func TestRegisterDynGlobalRejectsBadAddress(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	if err := h.RegisterDynGlobal(0x4000_0004); err == nil {
		t.Error("unaligned address should be rejected")
	}
	if err := h.RegisterDynGlobal(0x5000_0000); err == nil {
		t.Error("unmapped address should be rejected")
	}
}

// ---------------------------------------------------------------------------
// Major collection
// ---------------------------------------------------------------------------

func TestMajorCollectionFreesUnreachable(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	for i := 0; i < 10; i++ {
		h.AllocLarge(300, 0)
	}
	heapBefore := h.Stats().HeapWords

	h.MajorCollection()

	s := h.Stats()
	if s.FreedWords != 10*301 {
		t.Errorf("FreedWords = %d, want %d", s.FreedWords, 10*301)
	}
	if s.LiveWords != 0 {
		t.Errorf("LiveWords = %d, want 0", s.LiveWords)
	}
	if s.FreeWords != s.HeapWords {
		t.Errorf("FreeWords = %d, want all %d heap words coalesced", s.FreeWords, s.HeapWords)
	}

	for i := 0; i < 10; i++ {
		h.AllocLarge(300, 0)
	}
	if got := h.Stats().HeapWords; got != heapBefore {
		t.Errorf("HeapWords = %d after reuse, want %d", got, heapBefore)
	}
}

func TestMajorCollectionKeepsReachable(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	list := buildList(h, 50)
	frame := h.PushRoots(&list)
	defer frame.Release()

	h.AllocLarge(500, 0) // garbage
	h.MajorCollection()
	h.MajorCollection()

	checkList(t, h, list, 50)
	s := h.Stats()
	if s.LiveWords != 150 {
		t.Errorf("LiveWords = %d, want 150", s.LiveWords)
	}
	if s.MajorCollections != 2 {
		t.Errorf("MajorCollections = %d, want 2", s.MajorCollections)
	}
}

func TestCollectionsAdvanceEpoch(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	e0 := h.Epoch()
	h.MinorCollection()
	e1 := h.Epoch()
	h.MajorCollection()
	e2 := h.Epoch()
	if !(e0 < e1 && e1 < e2) {
		t.Errorf("epochs %d, %d, %d should increase", e0, e1, e2)
	}
}

func TestCheckUrgentGCRunsMajorSlice(t *testing.T) {
	cfg := testHeapConfig()
	cfg.MajorSliceWords = 500
	h := newTestHeap(t, cfg)

	h.AllocLarge(300, 0)
	if got := h.Stats().MajorCollections; got != 0 {
		t.Fatalf("MajorCollections = %d after first block, want 0", got)
	}
	v := h.AllocLarge(300, 0)
	s := h.Stats()
	if s.MajorCollections != 1 {
		t.Fatalf("MajorCollections = %d, want 1", s.MajorCollections)
	}
	if s.LiveWords != 301 {
		t.Errorf("LiveWords = %d, want 301 (the fresh block only)", s.LiveWords)
	}
	if hd := h.Header(v); hd.Wosize != 300 || hd.Color != White {
		t.Errorf("fresh block header = %v", hd)
	}
}

func TestOutOfMemoryIsFatal(t *testing.T) {
	cfg := testHeapConfig()
	cfg.MaxHeapWords = cfg.ChunkWords
	h := newTestHeap(t, cfg)

	var keep [8]Value
	for i := range keep {
		h.PushRoots(&keep[i])
	}

	defer func() {
		r := recover()
		fe, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("recovered %v, want *FatalError", r)
		}
		if !errors.Is(fe, ErrOutOfMemory) {
			t.Errorf("fatal error %v should wrap ErrOutOfMemory", fe)
		}
	}()
	for i := range keep {
		keep[i] = h.AllocLarge(1000, 0)
	}
	t.Fatal("allocation beyond the heap limit should be fatal")
}

func TestDebugFillPoisonsYoungArena(t *testing.T) {
	h := newTestHeap(t, testHeapConfig())
	v := h.AllocSmall(2, 0)
	h.MinorCollection()
	if got := h.young.Word(v.HeaderAddr()); got != debugFreeMinor {
		t.Errorf("young header after collection = %#x, want poison", got)
	}
}
