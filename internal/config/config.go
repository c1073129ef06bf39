// Package config holds the patch configuration shared by the CLI
// commands. It is loaded from an optional JSON file and overridden by
// flags.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"nativepatch/internal/patch"
)

var ErrInvalid = errors.New("invalid config")

// Config selects what gets patched and how results are written.
type Config struct {
	EntryPoint       string   `json:"entryPoint,omitempty" jsonschema:"title=Entry Point,description=Function walked in every library,default=JNI_OnLoad"`
	GuardPatterns    []string `json:"guardPatterns,omitempty" jsonschema:"title=Guard Patterns,description=Substrings identifying guard routines by callee name"`
	EpiloguePatterns []string `json:"epiloguePatterns,omitempty" jsonschema:"title=Epilogue Patterns,description=Substrings identifying guards followed by a branch on their result"`
	CallMnemonics    []string `json:"callMnemonics,omitempty" jsonschema:"title=Call Mnemonics,description=Mnemonics treated as calls"`
	Backup           bool     `json:"backup,omitempty" jsonschema:"title=Backup,description=Copy each library to <path>.bak before overwriting it"`
	DryRun           bool     `json:"dryRun,omitempty" jsonschema:"title=Dry Run,description=Patch in memory only and never write files"`
	Strict           bool     `json:"strict,omitempty" jsonschema:"title=Strict,description=Exit non-zero when a library fails to load or export"`
	Extensions       []string `json:"extensions,omitempty" jsonschema:"title=Extensions,description=File suffixes considered when walking directories"`
}

// Default returns the configuration for the observed deployment.
func Default() Config {
	return Config{
		EntryPoint:       patch.DefaultEntryPoint,
		GuardPatterns:    []string{patch.DefaultGuardPattern},
		EpiloguePatterns: []string{patch.DefaultEpiloguePattern},
		CallMnemonics:    []string{patch.DefaultCallMnemonic},
		Extensions:       []string{".so"},
	}
}

// Load reads path over the defaults. Fields absent from the file keep
// their default value; unknown fields are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.EntryPoint == "" {
		return fmt.Errorf("%w: entryPoint is empty", ErrInvalid)
	}
	if len(nonEmpty(c.GuardPatterns)) == 0 {
		return fmt.Errorf("%w: guardPatterns is empty", ErrInvalid)
	}
	return nil
}

// Policy converts the configuration into a patch policy.
func (c *Config) Policy() patch.Policy {
	return patch.Policy{
		EntryPoint:    c.EntryPoint,
		Guard:         patch.Substrings(nonEmpty(c.GuardPatterns)),
		Epilogue:      patch.Substrings(nonEmpty(c.EpiloguePatterns)),
		CallMnemonics: nonEmpty(c.CallMnemonics),
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
