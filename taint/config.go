package taint

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BarrensZeppelin/pta/ir"
	"gopkg.in/yaml.v3"
)

// ErrConfig is returned (wrapped) for taint configurations that cannot be
// read or that refer to program elements that do not exist.
var ErrConfig = errors.New("invalid taint configuration")

// Slot designates a value at a call site: the receiver, the result, or an
// argument (by index, starting at 0).
type Slot int

const (
	BaseSlot   Slot = -1
	ResultSlot Slot = -2
)

// ArgSlot returns the slot of the i'th argument.
func ArgSlot(i int) Slot { return Slot(i) }

func (s Slot) IsArg() bool { return s >= 0 }

func (s Slot) String() string {
	switch s {
	case BaseSlot:
		return "base"
	case ResultSlot:
		return "result"
	default:
		return strconv.Itoa(int(s))
	}
}

func ParseSlot(str string) (Slot, error) {
	switch str = strings.TrimSpace(str); str {
	case "base":
		return BaseSlot, nil
	case "result":
		return ResultSlot, nil
	}

	i, err := strconv.Atoi(str)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid slot %q (want base, result or an argument index)", str)
	}
	return ArgSlot(i), nil
}

func (s *Slot) UnmarshalYAML(value *yaml.Node) error {
	slot, err := ParseSlot(value.Value)
	if err != nil {
		return err
	}
	*s = slot
	return nil
}

func (s Slot) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Config is the declarative form of a set of taint rules. Methods are written
// as signatures, e.g. "<Sink: sink(String)>".
type Config struct {
	Sources   []SourceSpec   `yaml:"sources"`
	Sinks     []SinkSpec     `yaml:"sinks"`
	Transfers []TransferSpec `yaml:"transfers"`
}

// SourceSpec marks the result of calls to Method as tainted with Type.
type SourceSpec struct {
	Method string `yaml:"method"`
	Type   string `yaml:"type"`
}

// SinkSpec marks argument Index of calls to Method as a sink.
type SinkSpec struct {
	Method string `yaml:"method"`
	Index  int    `yaml:"index"`
}

// TransferSpec propagates taint between two slots of calls to Method.
type TransferSpec struct {
	Method string `yaml:"method"`
	From   Slot   `yaml:"from"`
	To     Slot   `yaml:"to"`
}

// LoadConfig reads a YAML taint configuration from a file.
func LoadConfig(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read config file: %v", ErrConfig, err)
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal config: %v", ErrConfig, err)
	}
	return cfg, nil
}

type Source struct {
	Method *ir.Method
	Type   ir.Type
}

type Sink struct {
	Method *ir.Method
	Index  int
}

type Transfer struct {
	Method   *ir.Method
	From, To Slot
}

// Rules is a taint configuration resolved against a program.
type Rules struct {
	Sources   []Source
	Sinks     []Sink
	Transfers []Transfer
}

// Resolve looks up every method and type named in c in prog. Any missing
// element or ill-formed rule results in an error wrapping ErrConfig.
func (c *Config) Resolve(prog *ir.Program) (*Rules, error) {
	rules := &Rules{}
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for i, spec := range c.Sources {
		m, err := prog.LookupMethod(spec.Method)
		if err != nil {
			fail("source %d: %v", i, err)
			continue
		}

		typ, err := prog.LookupType(spec.Type)
		if err != nil {
			fail("source %d: %v", i, err)
			continue
		}

		rules.Sources = append(rules.Sources, Source{Method: m, Type: typ})
	}

	for i, spec := range c.Sinks {
		m, err := prog.LookupMethod(spec.Method)
		if err != nil {
			fail("sink %d: %v", i, err)
			continue
		}

		if spec.Index < 0 || spec.Index >= len(m.Params()) {
			fail("sink %d: argument %d out of range for %s", i, spec.Index, m)
			continue
		}

		rules.Sinks = append(rules.Sinks, Sink{Method: m, Index: spec.Index})
	}

	for i, spec := range c.Transfers {
		m, err := prog.LookupMethod(spec.Method)
		if err != nil {
			fail("transfer %d: %v", i, err)
			continue
		}

		t := Transfer{Method: m, From: spec.From, To: spec.To}
		if err := t.validate(); err != nil {
			fail("transfer %d: %v", i, err)
			continue
		}

		rules.Transfers = append(rules.Transfers, t)
	}

	if len(errs) != 0 {
		return nil, fmt.Errorf("%w: %v", ErrConfig, errors.Join(errs...))
	}
	return rules, nil
}

func (t Transfer) validate() error {
	checkSlot := func(s Slot) error {
		switch {
		case s == BaseSlot && t.Method.Static:
			return fmt.Errorf("static method %s has no base", t.Method)
		case s.IsArg() && int(s) >= len(t.Method.Params()):
			return fmt.Errorf("argument %d out of range for %s", int(s), t.Method)
		}
		return nil
	}

	if err := checkSlot(t.From); err != nil {
		return err
	}
	if err := checkSlot(t.To); err != nil {
		return err
	}

	switch {
	case t.From == BaseSlot && t.To == ResultSlot,
		t.From.IsArg() && t.To == BaseSlot,
		t.From.IsArg() && t.To == ResultSlot:
		return nil
	default:
		return fmt.Errorf("unsupported transfer from %s to %s", t.From, t.To)
	}
}

// Load reads a configuration file and resolves it against prog.
func Load(filename string, prog *ir.Program) (*Rules, error) {
	cfg, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}
	return cfg.Resolve(prog)
}
