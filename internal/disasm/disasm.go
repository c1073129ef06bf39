// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

// Inst is a simplified decoded instruction.
type Inst struct {
	VA    uint64   // virtual address of instruction
	Len   uint64   // encoding length in bytes
	Op    string   // mnemonic in lowercase
	Args  []string // operands in lowercase, PC-relative ones as absolute 0x addresses
	Flows []uint64 // absolute branch/call targets
	Raw   []byte   // raw encoding
	Text  string   // formatted disassembly string
}

// MaxAddress returns the address of the last byte of the instruction.
func (i Inst) MaxAddress() uint64 {
	if i.Len == 0 {
		return i.VA
	}
	return i.VA + i.Len - 1
}

// Next returns the address immediately following the instruction.
func (i Inst) Next() uint64 {
	return i.MaxAddress() + 1
}

// Arg returns operand n, or "" when the instruction has fewer operands.
func (i Inst) Arg(n int) string {
	if n < 0 || n >= len(i.Args) {
		return ""
	}
	return i.Args[n]
}

// Func is a named, contiguous address range. End is inclusive.
type Func struct {
	Name      string
	Demangled string
	Entry     uint64
	End       uint64
}

// DisplayName prefers the demangled form when one exists.
func (f Func) DisplayName() string {
	if f.Demangled != "" {
		return f.Demangled
	}
	return f.Name
}

// Contains reports whether va lies in [Entry, End].
func (f Func) Contains(va uint64) bool {
	return va >= f.Entry && va <= f.End
}
