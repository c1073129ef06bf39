package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// InstSize is the fixed AArch64 encoding width.
const InstSize = 4

// Decode decodes one AArch64 instruction located at va.
func Decode(va uint64, raw []byte) (Inst, error) {
	if len(raw) < InstSize {
		return Inst{}, fmt.Errorf("decode %x: short read (%d bytes)", va, len(raw))
	}
	inst, err := arm64asm.Decode(raw[:InstSize])
	if err != nil {
		return Inst{}, fmt.Errorf("decode %x: %w", va, err)
	}

	op := strings.ToLower(inst.Op.String())
	var args []string
	var flows []uint64
	for idx, a := range inst.Args {
		if a == nil {
			break
		}
		switch v := a.(type) {
		case arm64asm.Cond:
			// b.cond carries its condition as the first argument
			if idx == 0 && inst.Op == arm64asm.B {
				op += "." + strings.ToLower(v.String())
				continue
			}
			args = append(args, strings.ToLower(v.String()))
		case arm64asm.PCRel:
			target := uint64(int64(va) + int64(v))
			args = append(args, fmt.Sprintf("0x%x", target))
			if isBranch(inst.Op) {
				flows = append(flows, target)
			}
		default:
			args = append(args, strings.ToLower(a.String()))
		}
	}

	out := Inst{
		VA:    va,
		Len:   InstSize,
		Op:    op,
		Args:  args,
		Flows: flows,
		Raw:   append([]byte(nil), raw[:InstSize]...),
	}
	out.Text = formatText(out)
	return out, nil
}

func isBranch(op arm64asm.Op) bool {
	switch op {
	case arm64asm.B, arm64asm.BL, arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return true
	}
	return false
}

// Word renders a 4-byte word that does not decode as a .inst pseudo
// instruction. It carries no flows.
func Word(va uint64, raw []byte) Inst {
	out := Inst{
		VA:   va,
		Len:  InstSize,
		Op:   ".inst",
		Args: []string{fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(raw))},
		Raw:  append([]byte(nil), raw[:InstSize]...),
	}
	out.Text = formatText(out)
	return out
}

func formatText(in Inst) string {
	if len(in.Args) == 0 {
		return fmt.Sprintf("%-10x %s", in.VA, in.Op)
	}
	return fmt.Sprintf("%-10x %-6s %s", in.VA, in.Op, strings.Join(in.Args, ", "))
}
