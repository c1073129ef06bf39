package patch

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// absoluteBranch marks texts eligible for the prefix-stripping retry.
const absoluteBranch = "b 0x"

// Attempt records one call to Applier.Apply.
type Attempt struct {
	Address  uint64 `json:"address"`
	Text     string `json:"text"`
	Fallback string `json:"fallback,omitempty"`
	OK       bool   `json:"ok"`
	Err      string `json:"error,omitempty"`
}

// Applier assembles patch texts and records the outcome of each attempt.
type Applier struct {
	asm      Assembler
	logger   *log.Logger
	attempts []Attempt
}

// NewApplier returns an Applier writing through a.
func NewApplier(a Assembler, logger *log.Logger) *Applier {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Applier{asm: a, logger: logger}
}

// Apply assembles text at addr. If that fails and text is an absolute
// branch with a 0x literal, the same branch is retried once without the
// prefix. Failures are logged and reported as false, never returned.
func (a *Applier) Apply(addr uint64, text string) bool {
	a.logger.Info("Patching", "addr", hexAddr(addr), "text", text)
	att := Attempt{Address: addr, Text: text}

	err := a.assemble(addr, text)
	if err != nil {
		if fb, ok := fallbackText(text); ok {
			att.Fallback = fb
			a.logger.Debug("Retrying without hex prefix", "addr", hexAddr(addr), "text", fb)
			fbErr := a.assemble(addr, fb)
			if fbErr == nil {
				err = nil
			} else {
				err = errors.Join(err, fmt.Errorf("retry %q: %w", fb, fbErr))
			}
		}
	}

	if err != nil {
		att.Err = err.Error()
		a.logger.Error("Assembler error", "addr", hexAddr(addr), "text", text, "err", err)
	}
	att.OK = err == nil
	a.attempts = append(a.attempts, att)
	return att.OK
}

// assemble converts assembler panics into errors so one bad rewrite
// cannot abort the walk.
func (a *Applier) assemble(addr uint64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return a.asm.Assemble(addr, text)
}

// Attempts returns every attempt made so far.
func (a *Applier) Attempts() []Attempt {
	return append([]Attempt(nil), a.attempts...)
}

func fallbackText(text string) (string, bool) {
	if !strings.Contains(text, absoluteBranch) {
		return "", false
	}
	return strings.Replace(text, absoluteBranch, "b ", 1), true
}
