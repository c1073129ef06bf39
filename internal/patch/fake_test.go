package patch

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"nativepatch/internal/disasm"
)

type asmCall struct {
	va   uint64
	text string
}

// fakeProgram is an in-memory listing with fixed 4-byte instructions.
type fakeProgram struct {
	name    string
	path    string
	funcs   []disasm.Func
	insts   map[uint64]disasm.Inst
	asm     *fakeAssembler
	asmErr  error
	lookups []uint64
}

func newFakeProgram() *fakeProgram {
	p := &fakeProgram{
		name:  "libgame.so",
		path:  "/data/app/lib/arm64/libgame.so",
		insts: make(map[uint64]disasm.Inst),
	}
	p.asm = &fakeAssembler{prog: p}
	return p
}

func (p *fakeProgram) fn(name string, entry, end uint64) disasm.Func {
	f := disasm.Func{Name: name, Entry: entry, End: end}
	p.funcs = append(p.funcs, f)
	sort.Slice(p.funcs, func(i, j int) bool { return p.funcs[i].Entry < p.funcs[j].Entry })
	return f
}

// put places "op args..." at va. Branch operands are hex addresses.
func (p *fakeProgram) put(va uint64, op string, args ...string) {
	in := disasm.Inst{VA: va, Len: 4, Op: op, Args: args}
	switch op {
	case "b", "bl", "blx", "cbz", "cbnz":
		if len(args) > 0 {
			lit := strings.TrimPrefix(args[len(args)-1], "0x")
			if target, err := strconv.ParseUint(lit, 16, 64); err == nil {
				in.Flows = []uint64{target}
			}
		}
	}
	p.insts[va] = in
}

// seq places consecutive instructions from va, one per text.
func (p *fakeProgram) seq(va uint64, texts ...string) uint64 {
	for _, text := range texts {
		op, args := splitText(text)
		p.put(va, op, args...)
		va += 4
	}
	return va
}

func (p *fakeProgram) Name() string           { return p.name }
func (p *fakeProgram) ExecutablePath() string { return p.path }

func (p *fakeProgram) Functions() []disasm.Func { return p.funcs }

func (p *fakeProgram) FunctionAt(va uint64) (disasm.Func, bool) {
	for _, f := range p.funcs {
		if f.Entry == va {
			return f, true
		}
	}
	return disasm.Func{}, false
}

func (p *fakeProgram) InstructionAt(va uint64) (disasm.Inst, bool) {
	p.lookups = append(p.lookups, va)
	in, ok := p.insts[va]
	return in, ok
}

func (p *fakeProgram) Assembler() (Assembler, error) {
	if p.asmErr != nil {
		return nil, p.asmErr
	}
	return p.asm, nil
}

type fakeAssembler struct {
	prog   *fakeProgram
	calls  []asmCall
	reject func(va uint64, text string) error
	panic  string
}

var errRejected = errors.New("rejected by fake assembler")

func (a *fakeAssembler) Assemble(va uint64, text string) error {
	a.calls = append(a.calls, asmCall{va: va, text: text})
	if a.panic != "" && text == a.panic {
		panic("boom: " + text)
	}
	if a.reject != nil {
		if err := a.reject(va, text); err != nil {
			return err
		}
	}
	op, args := splitText(text)
	a.prog.put(va, op, args...)
	return nil
}

func (a *fakeAssembler) texts() []string {
	out := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.text)
	}
	return out
}

func splitText(text string) (string, []string) {
	op, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	if rest == "" {
		return op, nil
	}
	args := strings.Split(rest, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return op, args
}

type recordingExporter struct {
	paths []string
	err   error
}

func (e *recordingExporter) Export(path string, _ Program) error {
	e.paths = append(e.paths, path)
	return e.err
}

type dryExporter struct{ recordingExporter }

func (*dryExporter) Simulated() bool { return true }
