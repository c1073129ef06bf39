package patch

import (
	"io"
	"math"

	"github.com/charmbracelet/log"

	"nativepatch/internal/disasm"
)

// Walker visits every instruction of one function and patches guard calls.
type Walker struct {
	dir      Directory
	listing  Listing
	applier  *Applier
	epilogue *EpilogueScanner
	policy   Policy
	logger   *log.Logger
}

func NewWalker(p Program, a *Applier, policy Policy, logger *log.Logger) *Walker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Walker{
		dir:      p,
		listing:  p,
		applier:  a,
		epilogue: NewEpilogueScanner(p, a),
		policy:   policy,
		logger:   logger,
	}
}

// Walk processes [fn.Entry, fn.End] in address order and reports whether
// any patch succeeded. Individual failures never stop the walk.
func (w *Walker) Walk(fn disasm.Func) bool {
	patched := false
	addr := fn.Entry
	for fn.Contains(addr) {
		in, ok := w.listing.InstructionAt(addr)
		if !ok {
			if addr == math.MaxUint64 {
				break
			}
			addr++
			continue
		}

		if w.visit(in) {
			patched = true
		}

		last := in.MaxAddress()
		if last < addr || last == math.MaxUint64 {
			break
		}
		addr = last + 1
	}
	return patched
}

func (w *Walker) visit(in disasm.Inst) bool {
	if !w.policy.isCall(in.Op) || len(in.Flows) == 0 {
		return false
	}
	target, ok := w.dir.FunctionAt(in.Flows[0])
	if !ok || !w.policy.isGuard(target.Name) {
		return false
	}

	w.logger.Info("Found call to "+target.Name, "addr", hexAddr(in.VA))
	patched := w.applier.Apply(in.VA, "nop")

	if w.policy.hasEpilogue(target.Name) {
		if w.epilogue.Scan(in.Next()) {
			patched = true
		}
	}
	return patched
}
