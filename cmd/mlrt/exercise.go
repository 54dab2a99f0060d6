package main

import (
	"fmt"

	"github.com/chazu/mlrt/vm"
)

// runExercise churns the heap: each round builds a linked list that is
// kept in an old array through the write barrier, fills and truncates a
// large vector, and dispatches through a method cache. Every round checks
// what it built and forces a major collection.
func runExercise(rt *vm.VM, rounds int) error {
	h := rt.Heap

	keep, err := h.MakeVector(vm.MaxYoungWosize+1, vm.Unit)
	if err != nil {
		return err
	}
	h.RegisterGlobalRoot(&keep)
	defer h.RemoveGlobalRoot(&keep)

	table := h.NewMethodTable([]vm.MethodEntry{
		{Tag: 7, Method: vm.FromInt(700)},
		{Tag: 3, Method: vm.FromInt(300)},
		{Tag: 11, Method: vm.FromInt(1100)},
	})
	obj := h.NewObject(table, 1)
	frame := h.PushRoots(&obj)
	defer frame.Release()
	var cache vm.MethodCache

	slots := h.ArrayLength(keep)
	for r := 0; r < rounds; r++ {
		list := vm.Unit
		lf := h.PushRoots(&list)
		for i := 0; i < 100; i++ {
			cell := h.AllocSmall(2, 0)
			h.InitializeField(cell, 0, vm.FromInt(int64(i)))
			h.InitializeField(cell, 1, list)
			list = cell
		}
		if err := h.ArraySet(keep, int64(r)%slots, list); err != nil {
			lf.Release()
			return err
		}
		lf.Release()

		vec, err := h.MakeVector(1000, vm.FromInt(int64(r)))
		if err != nil {
			return err
		}
		if err := h.Truncate(vec, 10); err != nil {
			return err
		}

		for _, tag := range []int64{3, 7, 11, 7} {
			idx := h.LookupCached(obj, tag, &cache)
			if got, want := h.MethodAt(obj, idx), vm.FromInt(tag*100); got != want {
				return fmt.Errorf("round %d: method for tag %d = %d, want %d", r, tag, got.Int(), want.Int())
			}
		}

		if r%10 == 9 {
			h.MajorCollection()
		}
	}

	h.MajorCollection()
	for i := int64(0); i < slots && i < int64(rounds); i++ {
		list, err := h.ArrayGet(keep, i)
		if err != nil {
			return err
		}
		n := 0
		for list != vm.Unit {
			list = h.Field(list, 1)
			n++
		}
		if n != 100 {
			return fmt.Errorf("list %d has %d cells after collection, want 100", i, n)
		}
	}
	fmt.Printf("Exercised %d rounds, method cache hit rate %.1f%%\n", rounds, cache.HitRate())
	return nil
}
