package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/BarrensZeppelin/pta"
	"github.com/BarrensZeppelin/pta/internal/maps"
	"github.com/BarrensZeppelin/pta/internal/slices"
	"github.com/BarrensZeppelin/pta/ir"
	"github.com/BarrensZeppelin/pta/pkgutil"
	"github.com/BarrensZeppelin/pta/ssaconv"
	"github.com/BarrensZeppelin/pta/taint"
	log "github.com/sirupsen/logrus"
	xslices "golang.org/x/exp/slices"
	"golang.org/x/term"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

var (
	selector   = flag.String("selector", "ci", "context selector: ci, <k>-call, <k>-obj or <k>-type")
	taintRules = flag.String("taint", "", "run the taint analysis with the rules in the YAML `file`")
	order      = flag.String("order", "fifo", "worklist order: fifo or lifo")
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
	dir        = flag.String("dir", "", "alternative directory to run the go build tool in")
	verbose    = flag.Bool("verbose", false, "print debug messages and per-package statistics")
)

func main() {
	flag.Parse()

	color := term.IsTerminal(int(os.Stdout.Fd()))
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
		DisableColors:   !color,
	})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if flag.NArg() == 0 {
		log.Fatal("Specify a package query on the command line")
	}

	sel, err := pta.ParseSelector(*selector)
	if err != nil {
		log.Fatal(err)
	}

	var ord pta.Order
	switch *order {
	case "fifo":
		ord = pta.FIFO
	case "lifo":
		ord = pta.LIFO
	default:
		log.Fatalf("unknown worklist order %q", *order)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Fatal("Failed to close", f)
			}
		}()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: true,
		Dir:   *dir,
	}, flag.Args()...)
	if err != nil {
		log.Fatalf("Loading packages failed: %v", err)
	}

	log.Infof("Loaded %d packages", len(pkgs))

	prog, mains := pkgutil.BuildSSA(pkgs)
	lowered, err := ssaconv.Convert(prog, mains)
	if err != nil {
		log.Fatalf("Lowering failed: %v", err)
	}

	config := pta.AnalysisConfig{
		Program:  lowered.Program,
		Selector: sel,
		Order:    ord,
	}

	var plugin *taint.Analysis
	if *taintRules != "" {
		rules, err := taint.Load(*taintRules, lowered.Program)
		if err != nil {
			log.Fatal(err)
		}
		plugin = taint.New(rules)
		config.Plugins = append(config.Plugins, plugin)
	}

	res, err := pta.Analyze(config)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	cg := lowered.CallGraph(res)
	stats := res.Stats()
	fmt.Printf("Selector:            %v\n", sel)
	fmt.Printf("Reachable functions: %d\n", len(cg.Nodes)-1)
	fmt.Printf("Contextual methods:  %d\n", stats.Methods)
	fmt.Printf("Call edges:          %d\n", stats.CallEdges)
	fmt.Printf("Pointers:            %d\n", stats.Pointers)
	fmt.Printf("Objects:             %d\n", stats.Objects)
	fmt.Printf("Recursive cycles:    %d\n", len(res.CallGraph().RecursiveComponents()))

	if *verbose {
		printPackages(cg.Nodes)
	}

	if plugin != nil {
		flows := plugin.Flows()
		fmt.Printf("Taint flows:         %d\n", len(flows))
		lines := slices.Map(flows, func(f taint.Flow) string {
			return fmt.Sprintf("%s -> %s (argument %d)",
				position(prog, lowered, f.Source), position(prog, lowered, f.Sink), f.Index)
		})
		for _, line := range lines {
			if color {
				line = "\033[31m" + line + "\033[0m"
			}
			fmt.Println("  " + line)
		}
	}
}

func position(prog *ssa.Program, lowered *ssaconv.Lowered, inv *ir.Invoke) string {
	if site := lowered.Site(inv); site != nil {
		return prog.Fset.Position(site.Pos()).String()
	}
	return inv.Site()
}

// printPackages prints the number of reachable functions per package.
func printPackages(nodes map[*ssa.Function]*callgraph.Node) {
	perPkg := make(map[string]int)
	for fn := range nodes {
		pkg := "<synthetic>"
		if fn.Pkg != nil {
			pkg = fn.Pkg.Pkg.Path()
		}
		perPkg[pkg]++
	}

	paths := maps.Keys(perPkg)
	xslices.Sort(paths)
	width := 0
	for _, p := range paths {
		if len(p) > width {
			width = len(p)
		}
	}
	for _, p := range paths {
		fmt.Printf("  %s%s %d\n", p, strings.Repeat(" ", width-len(p)), perPkg[p])
	}
}
