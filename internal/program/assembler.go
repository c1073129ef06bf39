package program

import (
	"fmt"

	"nativepatch/internal/asm"
	"nativepatch/internal/elfx"
)

// Assembler encodes a single instruction and overwrites the image in place.
type Assembler struct {
	image *elfx.Image
}

// Assemble writes the encoding of text at va. The target bytes must lie
// in an executable segment.
func (a *Assembler) Assemble(va uint64, text string) error {
	code, err := asm.Assemble(va, text)
	if err != nil {
		return err
	}
	if !a.image.IsExec(va, uint64(len(code))) {
		return fmt.Errorf("assemble %q at %x: %w", text, va, elfx.ErrNotExec)
	}
	return a.image.WriteVA(va, code)
}
