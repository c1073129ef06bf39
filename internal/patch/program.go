// Package patch neutralizes anti-tamper guard checks inside a single
// function by rewriting the guard call and its conditional epilogue.
//
// The package only consumes narrow collaborator contracts. A concrete
// backend lives in package program.
package patch

import "nativepatch/internal/disasm"

// Directory maps addresses to functions.
type Directory interface {
	Functions() []disasm.Func
	FunctionAt(va uint64) (disasm.Func, bool)
}

// Listing returns the instruction starting at va, if there is one.
type Listing interface {
	InstructionAt(va uint64) (disasm.Inst, bool)
}

// Assembler writes the encoding of text at va into the program.
type Assembler interface {
	Assemble(va uint64, text string) error
}

// Program is the binary a session works on.
type Program interface {
	Directory
	Listing
	Name() string
	ExecutablePath() string
	Assembler() (Assembler, error)
}

// Exporter writes the current in-memory image of p to path.
type Exporter interface {
	Export(path string, p Program) error
}

// Simulator is implemented by exporters that may report success without
// writing anything.
type Simulator interface {
	Simulated() bool
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(path string, p Program) error

func (f ExporterFunc) Export(path string, p Program) error { return f(path, p) }
