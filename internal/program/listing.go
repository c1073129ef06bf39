package program

import (
	"fmt"
	"strings"

	"nativepatch/internal/disasm"
	"nativepatch/internal/patch"
)

// Line is one row of an annotated function listing.
type Line struct {
	Inst disasm.Inst
	// Target is the display name of the function a branch lands on.
	Target string
	// Guard marks calls into a routine guard accepts.
	Guard bool
}

// String formats the line with the annotation after the operands.
func (l Line) String() string {
	var notes []string
	if l.Target != "" {
		notes = append(notes, l.Target)
	}
	if l.Guard {
		notes = append(notes, "guard")
	}
	if len(notes) == 0 {
		return l.Inst.Text
	}
	return fmt.Sprintf("%-48s ; %s", l.Inst.Text, strings.Join(notes, ", "))
}

// Listing disassembles fn. Words that do not decode are shown as .inst.
// A nil guard marks nothing.
func (p *Program) Listing(fn disasm.Func, guard patch.Matcher) []Line {
	var lines []Line
	for va := fn.Entry; fn.Contains(va); va += disasm.InstSize {
		in, ok := p.InstructionAt(va)
		if !ok {
			raw, ok := p.image.ReadBytesVA(va, disasm.InstSize)
			if !ok {
				break
			}
			in = disasm.Word(va, raw)
		}
		line := Line{Inst: in}
		if len(in.Flows) > 0 {
			if target, ok := p.FunctionAt(in.Flows[0]); ok {
				line.Target = target.DisplayName()
				line.Guard = guard != nil && guard.Match(target.Name)
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// FindFunction looks a function up by symbol or demangled name.
func (p *Program) FindFunction(name string) (disasm.Func, bool) {
	for _, f := range p.funcs {
		if f.Name == name || (f.Demangled != "" && f.Demangled == name) {
			return f, true
		}
	}
	return disasm.Func{}, false
}
