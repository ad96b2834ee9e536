package testutil

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
	"github.com/c360/semstreams-plc/varstore"
)

// Logic is one pass of a control program over PLC memory. Memory is
// addressed without the "%" prefix ("IX0.0").
type Logic func(memory map[string]varmap.Value)

// CopyInput returns logic that drives output address to from input
// address from, e.g. CopyInput("IX0.0", "QX0.0").
func CopyInput(from, to string) Logic {
	return func(memory map[string]varmap.Value) {
		if v, ok := memory[from]; ok {
			memory[to] = v
		}
	}
}

// ScanCycle simulates the PLC runtime side of the bridge. Each scan reads
// the input document into memory, runs the logic, then writes the exported
// outputs atomically, the way the runtime's hardware layer does.
type ScanCycle struct {
	input      *varstore.FileStore
	output     *varstore.FileStore
	outputVars []varmap.Key
	logic      Logic

	mu     sync.Mutex
	memory map[string]varmap.Value
	scans  int
}

// NewScanCycle wires a simulator between the two documents. With no logic
// the default program copies %IX0.0 to %QX0.0.
func NewScanCycle(inputPath, outputPath string, outputVars []varmap.Key, logic Logic) *ScanCycle {
	if logic == nil {
		logic = CopyInput("IX0.0", "QX0.0")
	}
	if len(outputVars) == 0 {
		outputVars = []varmap.Key{"%QX0.0"}
	}
	return &ScanCycle{
		input:      varstore.NewFileStore(inputPath),
		output:     varstore.NewFileStore(outputPath),
		outputVars: outputVars,
		logic:      logic,
		memory:     make(map[string]varmap.Value),
	}
}

// Init pre-creates the output document as "{}" so readers never see a
// missing file once the runtime is up.
func (s *ScanCycle) Init() error {
	if err := s.input.Prepare(false); err != nil {
		return err
	}
	return s.output.Prepare(true)
}

// Scan runs one input, logic, output cycle.
func (s *ScanCycle) Scan(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.input.Read(ctx)
	switch {
	case err == nil:
		for k, v := range in {
			s.memory[k.Address()] = v
		}
	case stderrors.Is(err, errors.ErrDocumentMissing):
		// Nothing published yet; inputs keep their last values.
	default:
		return err
	}

	s.logic(s.memory)

	out := make(varmap.Map, len(s.outputVars))
	for _, k := range s.outputVars {
		v, ok := s.memory[k.Address()]
		if !ok {
			v = zeroValue(k.Address())
		}
		out[k] = v
	}
	s.scans++
	return s.output.Write(ctx, out)
}

// Run scans every period until ctx is done.
func (s *ScanCycle) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

// Get reads a memory cell by address.
func (s *ScanCycle) Get(addr string) (varmap.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.memory[addr]
	return v, ok
}

// Set writes a memory cell directly, as a running program would.
func (s *ScanCycle) Set(addr string, v varmap.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[addr] = v
}

// Scans is the number of completed scans.
func (s *ScanCycle) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

// zeroValue is the power-on value of an address: false for bits
// (%QX0.0), 0 for everything wider.
func zeroValue(addr string) varmap.Value {
	if len(addr) >= 2 && strings.EqualFold(addr[1:2], "X") {
		return varmap.Bool(false)
	}
	return varmap.Int(0)
}
