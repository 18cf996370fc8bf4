package taint_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/BarrensZeppelin/pta"
	"github.com/BarrensZeppelin/pta/ir"
	"github.com/BarrensZeppelin/pta/taint"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const config = `
sources:
  - method: "<Source: source()>"
    type: String
sinks:
  - method: "<Sink: sink(String)>"
    index: 0
transfers:
  - method: "<StringBuilder: append(String)>"
    from: 0
    to: base
  - method: "<StringBuilder: toString()>"
    from: base
    to: result
  - method: "<Util: concat(String,String)>"
    from: 1
    to: result
`

// library declares the classes referenced by the configuration above.
type library struct {
	prog              *ir.Program
	main              *ir.Method
	str, sb           *ir.Class
	source, sink      *ir.Method
	appendM, toString *ir.Method
	concat            *ir.Method
}

func newLibrary() *library {
	prog := ir.NewProgram()
	object := prog.NewClass("Object", nil)
	str := prog.NewClass("String", object)
	sb := prog.NewClass("StringBuilder", object)
	l := &library{prog: prog, str: str, sb: sb}

	// Library bodies do not propagate anything; the transfer rules model them.
	l.source = prog.NewClass("Source", object).NewMethod("source", true)
	l.sink = prog.NewClass("Sink", object).NewMethod("sink", true, str)
	l.appendM = sb.NewMethod("append", false, str)
	l.toString = sb.NewMethod("toString", false)
	l.concat = prog.NewClass("Util", object).NewMethod("concat", true, str, str)

	l.main = prog.NewClass("Main", object).NewMethod("main", true)
	prog.SetEntry(l.main)
	return l
}

func (l *library) rules(t *testing.T) *taint.Rules {
	t.Helper()
	cfg, err := taint.ParseConfig([]byte(config))
	require.NoError(t, err)
	rules, err := cfg.Resolve(l.prog)
	require.NoError(t, err)
	return rules
}

func (l *library) analyze(t *testing.T, sel pta.ContextSelector) []taint.Flow {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	plugin := taint.New(l.rules(t))
	res, err := pta.Analyze(pta.AnalysisConfig{
		Program:  l.prog,
		Selector: sel,
		Plugins:  []pta.Plugin{plugin},
		Logger:   logger,
	})
	require.NoError(t, err)
	assert.Equal(t, plugin.Flows(), taint.FlowsOf(res))
	return plugin.Flows()
}

func TestDirectFlow(t *testing.T) {
	l := newLibrary()
	v := l.main.NewVar("v", l.str)
	src := l.main.InvokeStatic(v, l.source.Ref())
	sink := l.main.InvokeStatic(nil, l.sink.Ref(), v)

	for _, sel := range []pta.ContextSelector{pta.Insensitive(), pta.KCallSite(2, 1), pta.KObject(1, 0)} {
		flows := l.analyze(t, sel)
		assert.Equal(t, []taint.Flow{{Source: src, Sink: sink, Index: 0}}, flows, "%v", sel)
	}
}

func TestReassignment(t *testing.T) {
	l := newLibrary()
	v := l.main.NewVar("v", l.str)
	w := l.main.NewVar("w", l.str)
	l.main.InvokeStatic(v, l.source.Ref())
	l.main.New(w, l.str)
	l.main.InvokeStatic(nil, l.sink.Ref(), w)

	assert.Empty(t, l.analyze(t, pta.Insensitive()))
}

func TestTransfers(t *testing.T) {
	// b = new StringBuilder; b.append(s); r = b.toString(); sink(r)
	l := newLibrary()
	s := l.main.NewVar("s", l.str)
	b := l.main.NewVar("b", l.sb)
	r := l.main.NewVar("r", l.str)
	c1 := l.main.NewVar("c1", l.str)
	c2 := l.main.NewVar("c2", l.str)
	d := l.main.NewVar("d", l.str)
	src := l.main.InvokeStatic(s, l.source.Ref())
	l.main.New(b, l.sb)
	l.main.InvokeVirtual(nil, b, l.appendM.Ref(), s)
	l.main.InvokeVirtual(r, b, l.toString.Ref())
	sink1 := l.main.InvokeStatic(nil, l.sink.Ref(), r)

	// Only the second argument of concat taints its result.
	l.main.New(d, l.str)
	l.main.InvokeStatic(c1, l.concat.Ref(), s, d)
	l.main.InvokeStatic(nil, l.sink.Ref(), c1)
	l.main.InvokeStatic(c2, l.concat.Ref(), d, s)
	sink3 := l.main.InvokeStatic(nil, l.sink.Ref(), c2)

	flows := l.analyze(t, pta.KCallSite(1, 0))
	assert.Equal(t, []taint.Flow{
		{Source: src, Sink: sink1, Index: 0},
		{Source: src, Sink: sink3, Index: 0},
	}, flows)
}

func TestTaintObjects(t *testing.T) {
	l := newLibrary()
	v := l.main.NewVar("v", l.str)
	src := l.main.InvokeStatic(v, l.source.Ref())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	res, err := pta.Analyze(pta.AnalysisConfig{
		Program: l.prog,
		Plugins: []pta.Plugin{taint.New(l.rules(t))},
		Logger:  logger,
	})
	require.NoError(t, err)

	objs := res.ProjectedPointsTo(v)
	require.Len(t, objs, 1)
	assert.True(t, taint.IsTaint(objs[0]))
	assert.Same(t, src, taint.SourceCall(objs[0]))
	assert.Equal(t, ir.Type(l.str), objs[0].Type())
	assert.Nil(t, objs[0].Alloc())
}

func TestLogging(t *testing.T) {
	l := newLibrary()
	v := l.main.NewVar("v", l.str)
	l.main.InvokeStatic(v, l.source.Ref())
	l.main.InvokeStatic(nil, l.sink.Ref(), v)

	logger, hook := test.NewNullLogger()
	_, err := pta.Analyze(pta.AnalysisConfig{
		Program: l.prog,
		Plugins: []pta.Plugin{taint.New(l.rules(t))},
		Logger:  logger,
	})
	require.NoError(t, err)

	var finished *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "taint analysis finished" {
			finished = e
		}
	}
	require.NotNil(t, finished, "taint plugin must log through the analysis logger")
	assert.Equal(t, "taint", finished.Data["plugin"])
	assert.Equal(t, 1, finished.Data["flows"])
}

func TestConfig(t *testing.T) {
	l := newLibrary()
	rules := l.rules(t)
	require.Len(t, rules.Sources, 1)
	assert.Same(t, l.source, rules.Sources[0].Method)
	assert.Equal(t, ir.Type(l.str), rules.Sources[0].Type)
	assert.Equal(t, []taint.Sink{{Method: l.sink, Index: 0}}, rules.Sinks)
	assert.Equal(t, []taint.Transfer{
		{Method: l.appendM, From: taint.ArgSlot(0), To: taint.BaseSlot},
		{Method: l.toString, From: taint.BaseSlot, To: taint.ResultSlot},
		{Method: l.concat, From: taint.ArgSlot(1), To: taint.ResultSlot},
	}, rules.Transfers)

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taint.yml")
		require.NoError(t, os.WriteFile(path, []byte(config), 0o644))
		fromFile, err := taint.Load(path, l.prog)
		require.NoError(t, err)
		assert.Equal(t, rules, fromFile)

		_, err = taint.Load(filepath.Join(t.TempDir(), "missing.yml"), l.prog)
		assert.ErrorIs(t, err, taint.ErrConfig)
	})

	t.Run("Invalid", func(t *testing.T) {
		for name, cfg := range map[string]string{
			"syntax":         "sources: [",
			"slot":           "transfers: [{method: '<Util: concat(String,String)>', from: left, to: result}]",
			"unknown method": "sinks: [{method: '<Sink: leak(String)>', index: 0}]",
			"unknown type":   "sources: [{method: '<Source: source()>', type: Secret}]",
			"sink index":     "sinks: [{method: '<Sink: sink(String)>', index: 1}]",
			"static base":    "transfers: [{method: '<Util: concat(String,String)>', from: base, to: result}]",
			"arg index":      "transfers: [{method: '<StringBuilder: append(String)>', from: 3, to: base}]",
			"unsupported":    "transfers: [{method: '<StringBuilder: toString()>', from: result, to: base}]",
		} {
			parsed, err := taint.ParseConfig([]byte(cfg))
			if err == nil {
				_, err = parsed.Resolve(l.prog)
			}
			assert.ErrorIs(t, err, taint.ErrConfig, name)
		}
	})

	t.Run("ForeignProgram", func(t *testing.T) {
		other := newLibrary()
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		_, err := pta.Analyze(pta.AnalysisConfig{
			Program: other.prog,
			Plugins: []pta.Plugin{taint.New(rules)},
			Logger:  logger,
		})
		assert.ErrorIs(t, err, taint.ErrConfig)
	})
}

func TestSlot(t *testing.T) {
	for str, slot := range map[string]taint.Slot{
		"base":   taint.BaseSlot,
		"result": taint.ResultSlot,
		"2":      taint.ArgSlot(2),
	} {
		parsed, err := taint.ParseSlot(str)
		require.NoError(t, err)
		assert.Equal(t, slot, parsed)
		assert.Equal(t, str, slot.String())
	}

	_, err := taint.ParseSlot("-1")
	assert.Error(t, err)
}
