// Package program backs patch.Program with an AArch64 ELF image held in
// memory. Patches land in the in-memory copy; an Exporter writes it out.
package program

import (
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"nativepatch/internal/disasm"
	"nativepatch/internal/elfx"
	"nativepatch/internal/patch"
)

var ErrUnsupportedMachine = errors.New("unsupported machine")

// Program is a loaded shared object.
type Program struct {
	image   *elfx.Image
	name    string
	path    string
	funcs   []disasm.Func
	byEntry map[uint64]int
}

var _ patch.Program = (*Program)(nil)

// Open loads the ELF file at path.
func Open(path string) (*Program, error) {
	im, err := elfx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return New(im), nil
}

// New wraps an already parsed image.
func New(im *elfx.Image) *Program {
	p := &Program{
		image:   im,
		name:    filepath.Base(im.Path),
		path:    im.Path,
		byEntry: make(map[uint64]int),
	}
	p.funcs = collectFunctions(im)
	for i, f := range p.funcs {
		p.byEntry[f.Entry] = i
	}
	return p
}

func (p *Program) Name() string           { return p.name }
func (p *Program) ExecutablePath() string { return p.path }

// Bytes returns the current image contents, patches included.
func (p *Program) Bytes() []byte { return p.image.All }

func (p *Program) Close() error { return p.image.Close() }

// Functions returns defined functions and PLT thunks sorted by entry.
func (p *Program) Functions() []disasm.Func { return p.funcs }

// FunctionAt returns the function whose entry is exactly va.
func (p *Program) FunctionAt(va uint64) (disasm.Func, bool) {
	i, ok := p.byEntry[va]
	if !ok {
		return disasm.Func{}, false
	}
	return p.funcs[i], true
}

// InstructionAt decodes the instruction at va. Unaligned, unmapped and
// undecodable addresses have no instruction.
func (p *Program) InstructionAt(va uint64) (disasm.Inst, bool) {
	if va%disasm.InstSize != 0 || !p.image.IsExec(va, disasm.InstSize) {
		return disasm.Inst{}, false
	}
	raw, ok := p.image.ReadBytesVA(va, disasm.InstSize)
	if !ok {
		return disasm.Inst{}, false
	}
	in, err := disasm.Decode(va, raw)
	if err != nil {
		return disasm.Inst{}, false
	}
	return in, true
}

// Assembler returns an assembler writing into the image. Only AArch64
// images are supported.
func (p *Program) Assembler() (patch.Assembler, error) {
	if m := p.image.Machine(); m != elf.EM_AARCH64 {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedMachine, m)
	}
	return &Assembler{image: p.image}, nil
}

func collectFunctions(im *elfx.Image) []disasm.Func {
	var funcs []disasm.Func
	seen := make(map[uint64]bool)

	// dynsym first so exported names win over local aliases
	for _, sym := range append(append([]elfx.DynSym(nil), im.Dynsyms...), im.Syms...) {
		if !sym.IsFunc || sym.Addr == 0 || sym.Size == 0 || seen[sym.Addr] {
			continue
		}
		seen[sym.Addr] = true
		funcs = append(funcs, newFunc(sym.Name, sym.Addr, sym.Size))
	}
	for _, stub := range im.PLTStubs {
		if !im.IsPLTEntry(stub.Addr) || seen[stub.Addr] {
			continue
		}
		name, ok := im.PLTSymbol(stub.Addr)
		if !ok {
			continue
		}
		seen[stub.Addr] = true
		funcs = append(funcs, newFunc(name, stub.Addr, elfx.PLTStubSize))
	}

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Entry < funcs[j].Entry })
	return funcs
}

func newFunc(name string, entry, size uint64) disasm.Func {
	f := disasm.Func{Name: name, Entry: entry, End: entry + size - 1}
	if d := CachedDemangle(name); d != name {
		f.Demangled = d
	}
	return f
}
