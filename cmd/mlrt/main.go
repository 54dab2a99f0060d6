// mlrt CLI - loads unit images into a runtime and exercises the heap
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/inhies/go-bytesize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/mlrt/manifest"
	"github.com/chazu/mlrt/vm"
	"github.com/chazu/mlrt/vm/dynlink"
)

func main() {
	configDir := flag.String("C", ".", "Directory to search (upwards) for mlrt.toml")
	verbose := flag.Int("v", 0, "Log verbosity (-4 silent .. 2 debug); overrides [log] verbosity when nonzero")
	logPath := flag.String("log", "", "Log file (default stderr)")
	private := flag.Bool("private", false, "Open command-line units without exporting their symbols")
	unitNames := flag.String("units", "", "Comma-separated unit names to link from each command-line image")
	exercise := flag.Int("exercise", 0, "Run the heap exerciser for N rounds")
	showStats := flag.Bool("stats", false, "Print GC statistics before exiting")
	inspect := flag.Bool("inspect", false, "Print the global block of every loaded unit")
	demoOut := flag.String("write-demo", "", "Write a demo unit image to this path and exit")
	var minorHeap, maxHeap bytesize.ByteSize
	flag.Var(&minorHeap, "minor-heap", "Young arena size (e.g. 2MB); overrides [heap] minor-heap")
	flag.Var(&maxHeap, "max-heap", "Old generation ceiling (e.g. 512MB); overrides [heap] max-heap")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mlrt [options] [unit images...]\n\n")
		fmt.Fprintf(os.Stderr, "Creates a runtime from mlrt.toml, opens the configured and given unit images,\n")
		fmt.Fprintf(os.Stderr, "links their units and optionally exercises the collector.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mlrt -write-demo demo.unit              # Build a demo image\n")
		fmt.Fprintf(os.Stderr, "  mlrt -units Demo demo.unit -stats       # Load it and print GC stats\n")
		fmt.Fprintf(os.Stderr, "  mlrt -units Demo demo.unit -inspect     # Show the unit's globals\n")
		fmt.Fprintf(os.Stderr, "  mlrt -exercise 100 -minor-heap 64KB -v 2 # Stress the heap with debug logs\n")
	}
	flag.Parse()

	if *demoOut != "" {
		if err := writeDemo(*demoOut); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *demoOut)
		return
	}

	m, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}
	if minorHeap != 0 {
		m.Heap.MinorHeap = minorHeap
	}
	if maxHeap != 0 {
		m.Heap.MaxHeap = maxHeap
	}
	if err := m.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verbosity := m.Log.Verbosity
	if *verbose != 0 {
		verbosity = *verbose
	}
	path := m.Log.Path
	if *logPath != "" {
		path = *logPath
	}
	commonlog.Initialize(verbosity, path)

	rt, err := vm.NewVM(m.HeapConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stop := rt.NotifySignals(os.Interrupt)
	var names []string
	if *unitNames != "" {
		names = strings.Split(*unitNames, ",")
	}
	err = run(rt, m, options{
		private:  *private,
		units:    names,
		images:   flag.Args(),
		exercise: *exercise,
		inspect:  *inspect,
	})
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *showStats {
		printStats(rt)
	}
}

// options are the command-line settings used once the runtime exists.
type options struct {
	private  bool
	units    []string
	images   []string
	exercise int
	inspect  bool
}

// run opens the configured and command-line units, reports them and runs
// the exerciser.
func run(rt *vm.VM, m *manifest.Manifest, opts options) error {
	loader := dynlink.NewLoader(rt, m.LoaderConfig())
	registerBuiltinEntries(loader)

	for _, u := range m.Units {
		if err := loader.OpenUnit(u.Private, m.UnitPath(u), u.Units); err != nil {
			return err
		}
	}
	for _, path := range opts.images {
		if err := loader.OpenUnit(opts.private, path, opts.units); err != nil {
			return err
		}
	}
	inspector := vm.NewInspector(rt.Heap)
	for _, u := range loader.Units() {
		fmt.Printf("Loaded unit %s (global %#x, relocated=%t, %d symbols)\n", u.Name, u.Global, u.Relocated, u.Symbols)
		if opts.inspect {
			fmt.Print(inspector.Inspect(vm.FromAddr(u.Global)).PrettyPrint())
		}
	}

	if opts.exercise > 0 {
		return runExercise(rt, opts.exercise)
	}
	return nil
}

func printStats(rt *vm.VM) {
	s := rt.Heap.Stats()
	fmt.Printf("Minor collections:   %d (last %v)\n", s.MinorCollections, s.LastMinorDuration)
	fmt.Printf("Major collections:   %d (last %v)\n", s.MajorCollections, s.LastMajorDuration)
	fmt.Printf("Young allocated:     %s\n", words(s.YoungAllocatedWords))
	fmt.Printf("Old allocated:       %s\n", words(s.OldAllocatedWords))
	fmt.Printf("Promoted:            %s\n", words(s.PromotedWords))
	fmt.Printf("Freed:               %s\n", words(s.FreedWords))
	fmt.Printf("Heap:                %s in %d chunks (%s free)\n", words(s.HeapWords), s.Chunks, words(s.FreeWords))
	fmt.Printf("Remembered set peak: %d\n", s.RememberedPeak)
	fmt.Printf("Barrier:             %d writes, %d initializes, %d old->young, %d rewrites\n",
		s.Barrier.Writes, s.Barrier.Initializes, s.Barrier.OldToYoung, s.Barrier.Rewrites)
	fmt.Printf("Static segments:     %d\n", rt.Segments.Len())
	fmt.Printf("Frame tables:        %d (%d descriptors)\n", rt.FrameTables.Len(), rt.FrameTables.Descriptors())
	fmt.Printf("Runtime symbols:     %d\n", rt.Symbols.Len())
}

func words(n uint64) string {
	return bytesize.ByteSize(n * vm.WordSize).String()
}
