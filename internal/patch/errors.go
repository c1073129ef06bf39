package patch

import (
	"errors"
	"fmt"
)

var (
	ErrNoAssembler  = errors.New("no assembler for program")
	ErrNoEntryPoint = errors.New("entry point not found")
	ErrExport       = errors.New("export failed")
)

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("assembler panic: %v", p.v) }

func hexAddr(va uint64) string { return fmt.Sprintf("%#x", va) }
