package main

import (
	"fmt"

	"github.com/chazu/mlrt/vm"
	"github.com/chazu/mlrt/vm/dynlink"
)

// demoBase is where the demo image's data section is mapped. It sits far
// above the addresses the heap picks for itself.
const demoBase = 0x4000_0000

// writeDemo writes an image with two units. Demo exports a static table
// through its symtable; DemoClient relocates against it.
func writeDemo(path string) error {
	b := dynlink.NewUnitBuilder(demoBase, dynlink.DefaultArch())

	b.BeginUnit("Demo", 2)
	table := b.Block(0, vm.FromInt(1), vm.FromInt(2), vm.FromInt(3))
	b.SymTable([]dynlink.SymTabEntry{{Name: "demo_table", Addr: table}})
	b.EndUnit()

	b.BeginUnit("DemoClient", 1)
	abs := b.Word(0)
	rel := b.Word(0)
	b.RelocTable(dynlink.RelocTable{Entries: []dynlink.RelocEntry{
		{Symbol: "demo_table", Sites: []dynlink.RelocSite{{Site: abs, Absolute: true}}},
		{Symbol: "camlDemo", Sites: []dynlink.RelocSite{{Site: rel}}},
	}})
	b.Define("demo_client_abs", abs)
	b.EndUnit()

	img, err := b.Build()
	if err != nil {
		return err
	}
	return dynlink.WriteImage(path, img)
}

func registerBuiltinEntries(l *dynlink.Loader) {
	l.RegisterEntry("Demo", func(rt *vm.VM, u *dynlink.Unit) error {
		h := rt.Heap
		greeting := h.CopyString("hello from " + u.Name)
		h.Modify(vm.Value(u.Global).FieldAddr(0), greeting)
		return nil
	})
	l.RegisterEntry("DemoClient", func(rt *vm.VM, u *dynlink.Unit) error {
		site, ok := u.Handle.Lookup("demo_client_abs")
		if !ok {
			return fmt.Errorf("demo_client_abs not defined")
		}
		addr, err := rt.Space.ReadWord(site, vm.WordSize)
		if err != nil {
			return err
		}
		if !rt.IsStaticData(addr) {
			return fmt.Errorf("demo_table %#x is not static data", addr)
		}
		table := vm.FromAddr(addr)
		sum := int64(0)
		for i := int64(0); i < rt.Heap.ArrayLength(table); i++ {
			v, err := rt.Heap.ArrayGet(table, i)
			if err != nil {
				return err
			}
			sum += v.Int()
		}
		rt.Heap.Modify(vm.Value(u.Global).FieldAddr(0), vm.FromInt(sum))
		return nil
	})
}
