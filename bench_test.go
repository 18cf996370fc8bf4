package pta_test

import (
	"fmt"
	"testing"

	"github.com/BarrensZeppelin/pta"
	"github.com/BarrensZeppelin/pta/pkgutil"
	"github.com/BarrensZeppelin/pta/ssaconv"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

var blackHole any

// Benchmark the solver under each context selector on the lowered gofmt
// command.
func BenchmarkSelectors(b *testing.B) {
	pkgs, err := pkgutil.LoadPackagesWithConfig(
		&packages.Config{
			Mode:  pkgutil.LoadMode,
			Tests: false,
			Dir:   "",
		}, "cmd/gofmt")
	require.NoError(b, err)

	prog, mains := pkgutil.BuildSSA(pkgs)
	lowered, err := ssaconv.Convert(prog, mains)
	require.NoError(b, err)

	for _, sel := range []pta.ContextSelector{
		pta.Insensitive(),
		pta.KCallSite(1, 0),
		pta.KObject(1, 0),
		pta.KType(1, 0),
	} {
		b.Run(fmt.Sprint(sel), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				res, err := pta.Analyze(pta.AnalysisConfig{
					Program:  lowered.Program,
					Selector: sel,
					Logger:   quietLogger(),
				})
				require.NoError(b, err)
				blackHole = res
			}
		})
	}
}

func BenchmarkSynthetic(b *testing.B) {
	p := richProgram()
	for i := 0; i < b.N; i++ {
		res, err := pta.Analyze(pta.AnalysisConfig{
			Program:  p.Program,
			Selector: pta.KObject(2, 1),
			Logger:   quietLogger(),
		})
		require.NoError(b, err)
		blackHole = res
	}
}
