package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/mlrt/manifest"
	"github.com/chazu/mlrt/vm"
	"github.com/chazu/mlrt/vm/dynlink"
)

func newTestRuntime(t *testing.T) *vm.VM {
	t.Helper()
	rt, err := vm.NewVM(vm.DefaultHeapConfig())
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	return rt
}

func TestRunLoadsDemoImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.unit")
	if err := writeDemo(path); err != nil {
		t.Fatalf("writeDemo: %v", err)
	}
	rt := newTestRuntime(t)
	err := run(rt, manifest.Default(), options{
		units:  []string{"Demo", "DemoClient"},
		images: []string{path},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := rt.Segments.Len(); got != 2 {
		t.Errorf("data segments = %d, want 2", got)
	}
	globals := rt.Heap.DynGlobals()
	if len(globals) != 2 {
		t.Fatalf("dyn globals = %d, want 2", len(globals))
	}
	if got := rt.Heap.Field(globals[1], 0); got != vm.FromInt(6) {
		t.Errorf("DemoClient sum = %v, want 6", got)
	}
}

func TestRunReturnsLoadError(t *testing.T) {
	rt := newTestRuntime(t)
	err := run(rt, manifest.Default(), options{
		units:  []string{"Demo"},
		images: []string{filepath.Join(t.TempDir(), "missing.unit")},
	})
	var le *dynlink.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("run err = %v, want *dynlink.LoadError", err)
	}
	if rt.Segments.Len() != 0 {
		t.Error("a failed run should register no data segments")
	}
}
