package patch

import (
	"strings"

	"nativepatch/internal/disasm"
)

// EpilogueLookahead bounds how many instructions after a guard call are
// inspected for its conditional branch.
const EpilogueLookahead = 5

const (
	opZeroBranch    = "cbz"
	opNotZeroBranch = "cbnz"
)

type epilogueState int

const (
	stateScanning epilogueState = iota
	stateFoundZeroBranch
	stateFoundNotZeroBranch
	stateExhausted
)

func (s epilogueState) String() string {
	switch s {
	case stateScanning:
		return "scanning"
	case stateFoundZeroBranch:
		return "found-zero-branch"
	case stateFoundNotZeroBranch:
		return "found-not-zero-branch"
	case stateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// nextState is the scanner's transition function. step counts inspected
// instructions starting at zero; inst is nil for a listing gap.
func nextState(step int, inst *disasm.Inst) epilogueState {
	if step >= EpilogueLookahead || inst == nil {
		return stateExhausted
	}
	switch strings.ToLower(inst.Op) {
	case opZeroBranch:
		return stateFoundZeroBranch
	case opNotZeroBranch:
		return stateFoundNotZeroBranch
	}
	return stateScanning
}

// EpilogueScanner rewrites the conditional branch that follows a guard
// call so the check's fail path can no longer be selected.
type EpilogueScanner struct {
	listing Listing
	applier *Applier
}

func NewEpilogueScanner(l Listing, a *Applier) *EpilogueScanner {
	return &EpilogueScanner{listing: l, applier: a}
}

// Scan inspects up to EpilogueLookahead instructions from start and
// patches the first cbz (to nop) or cbnz (to b to the same target).
func (s *EpilogueScanner) Scan(start uint64) bool {
	addr := start
	for step := 0; ; step++ {
		var cur *disasm.Inst
		if step < EpilogueLookahead {
			if in, ok := s.listing.InstructionAt(addr); ok {
				cur = &in
			}
		}

		switch nextState(step, cur) {
		case stateFoundZeroBranch:
			return s.applier.Apply(cur.VA, "nop")
		case stateFoundNotZeroBranch:
			lit, ok := branchLiteral(*cur)
			if !ok {
				s.applier.logger.Warn("cbnz without a target", "addr", hexAddr(cur.VA))
				return false
			}
			return s.applier.Apply(cur.VA, "b "+lit)
		case stateExhausted:
			return false
		}
		addr = cur.Next()
	}
}

// branchLiteral formats the target operand of a cbnz as an address literal.
func branchLiteral(in disasm.Inst) (string, bool) {
	op := strings.TrimPrefix(strings.TrimSpace(in.Arg(1)), "#")
	if op == "" {
		if len(in.Flows) == 0 {
			return "", false
		}
		return hexAddr(in.Flows[0]), true
	}
	if strings.HasPrefix(op, "0x") || strings.HasPrefix(op, "0X") {
		return op, true
	}
	return "0x" + op, true
}
