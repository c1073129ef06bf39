package patch

import "strings"

// Defaults observed in the deployed guard.
const (
	DefaultEntryPoint      = "JNI_OnLoad"
	DefaultGuardPattern    = "obfs_check1"
	DefaultEpiloguePattern = "finish"
	DefaultCallMnemonic    = "bl"
)

// Matcher decides whether a function name matches.
type Matcher interface {
	Match(name string) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(name string) bool

func (f MatcherFunc) Match(name string) bool { return f(name) }

// Substrings matches names containing any of its elements.
type Substrings []string

func (s Substrings) Match(name string) bool {
	for _, sub := range s {
		if sub != "" && strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// Policy selects what a session patches.
type Policy struct {
	// EntryPoint names the one function that is walked.
	EntryPoint string
	// Guard recognizes guard routines by the called function's name.
	Guard Matcher
	// Epilogue recognizes guard routines followed by a branch epilogue.
	// It is only consulted for names Guard accepted.
	Epilogue Matcher
	// CallMnemonics lists the mnemonics treated as calls.
	CallMnemonics []string
}

// DefaultPolicy returns the policy for the observed deployment.
func DefaultPolicy() Policy {
	return Policy{
		EntryPoint:    DefaultEntryPoint,
		Guard:         Substrings{DefaultGuardPattern},
		Epilogue:      Substrings{DefaultEpiloguePattern},
		CallMnemonics: []string{DefaultCallMnemonic},
	}
}

func (p Policy) isCall(op string) bool {
	calls := p.CallMnemonics
	if len(calls) == 0 {
		calls = []string{DefaultCallMnemonic}
	}
	for _, c := range calls {
		if strings.EqualFold(op, c) {
			return true
		}
	}
	return false
}

func (p Policy) isGuard(name string) bool {
	return name != "" && p.Guard != nil && p.Guard.Match(name)
}

func (p Policy) hasEpilogue(name string) bool {
	return p.Epilogue != nil && p.Epilogue.Match(name)
}
