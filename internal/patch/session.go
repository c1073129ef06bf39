package patch

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"nativepatch/internal/disasm"
)

// Status summarizes how a session ended.
type Status int

const (
	StatusUnchanged Status = iota
	StatusPatched
	StatusNoAssembler
	StatusNoEntryPoint
	StatusExportFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusPatched:
		return "patched"
	case StatusNoAssembler:
		return "no-assembler"
	case StatusNoEntryPoint:
		return "no-entry-point"
	case StatusExportFailed:
		return "export-failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the result of one session. Exported is false for a dry run
// even though the export step succeeded.
type Outcome struct {
	Program  string
	Path     string
	Function disasm.Func
	Status   Status
	// Patched is true when at least one patch succeeded during the walk.
	Patched  bool
	Exported bool
	Attempts []Attempt
	Err      error
}

// Session runs one scan-and-patch pass over a program's entry function.
type Session struct {
	policy   Policy
	exporter Exporter
	logger   *log.Logger
}

func NewSession(policy Policy, exporter Exporter, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Session{policy: policy, exporter: exporter, logger: logger}
}

// Run patches p. Setup problems and export failures end up in the
// returned Outcome; Run itself never fails.
func (s *Session) Run(p Program) Outcome {
	out := Outcome{Program: p.Name(), Path: p.ExecutablePath()}
	logger := s.logger.With("program", p.Name())

	assembler, err := p.Assembler()
	if err != nil || assembler == nil {
		if err == nil {
			err = ErrNoAssembler
		}
		out.Status = StatusNoAssembler
		out.Err = fmt.Errorf("%w: %v", ErrNoAssembler, err)
		logger.Error("Could not initialize assembler", "err", err)
		return out
	}

	fn, ok := s.findEntry(p)
	if !ok {
		out.Status = StatusNoEntryPoint
		out.Err = fmt.Errorf("%w: %s", ErrNoEntryPoint, s.policy.EntryPoint)
		logger.Warn("Entry point not found", "function", s.policy.EntryPoint)
		return out
	}
	out.Function = fn

	logger.Info("Starting patch", "function", fn.Name, "entry", hexAddr(fn.Entry), "end", hexAddr(fn.End))
	applier := NewApplier(assembler, logger)
	out.Patched = NewWalker(p, applier, s.policy, logger).Walk(fn)
	out.Attempts = applier.Attempts()

	if !out.Patched {
		out.Status = StatusUnchanged
		logger.Info("No changes applied")
		return out
	}

	logger.Info("SUCCESS: Exporting", "path", out.Path)
	if s.exporter == nil {
		out.Status = StatusExportFailed
		out.Err = fmt.Errorf("%w: no exporter configured", ErrExport)
		logger.Error("Export failed", "err", out.Err)
		return out
	}
	if err := s.exporter.Export(out.Path, p); err != nil {
		out.Status = StatusExportFailed
		out.Err = fmt.Errorf("%w: %w", ErrExport, err)
		logger.Error("Export failed", "path", out.Path, "err", err)
		return out
	}
	out.Status = StatusPatched
	sim, ok := s.exporter.(Simulator)
	out.Exported = !ok || !sim.Simulated()
	return out
}

func (s *Session) findEntry(p Program) (disasm.Func, bool) {
	for _, fn := range p.Functions() {
		if fn.Name == s.policy.EntryPoint {
			return fn, true
		}
	}
	return disasm.Func{}, false
}
