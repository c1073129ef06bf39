// Package asm assembles the small AArch64 vocabulary needed to rewrite
// call sites and branch epilogues: nop, ret, b, bl, b.cond, cbz and cbnz.
//
// Branch targets are absolute addresses written in hexadecimal, with or
// without a 0x or # prefix.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownMnemonic = errors.New("unknown mnemonic")
	ErrOperand         = errors.New("bad operand")
	ErrMisaligned      = errors.New("misaligned address")
	ErrOutOfRange      = errors.New("branch target out of range")
)

const (
	encNOP  = 0xd503201f
	encRET  = 0xd65f0000
	encB    = 0x14000000
	encBL   = 0x94000000
	encBCC  = 0x54000000
	encCBZ  = 0x34000000
	encCBNZ = 0x35000000
	sf64    = 1 << 31

	regZR = 31
	regLR = 30
)

var conds = map[string]uint32{
	"eq": 0, "ne": 1, "cs": 2, "hs": 2, "cc": 3, "lo": 3,
	"mi": 4, "pl": 5, "vs": 6, "vc": 7, "hi": 8, "ls": 9,
	"ge": 10, "lt": 11, "gt": 12, "le": 13, "al": 14, "nv": 15,
}

// Assemble encodes text as a single instruction placed at pc and returns
// its little-endian bytes.
func Assemble(pc uint64, text string) ([]byte, error) {
	word, err := Encode(pc, text)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, word)
	return out, nil
}

// Encode is Assemble returning the raw instruction word.
func Encode(pc uint64, text string) (uint32, error) {
	mnemonic, operands := split(text)
	if pc%4 != 0 {
		return 0, fmt.Errorf("assemble %q at %x: %w", text, pc, ErrMisaligned)
	}

	var word uint32
	var err error
	switch {
	case mnemonic == "nop":
		word, err = encodeBare(encNOP, operands)
	case mnemonic == "ret":
		word, err = encodeRet(operands)
	case mnemonic == "b":
		word, err = encodeImm26(encB, pc, operands)
	case mnemonic == "bl":
		word, err = encodeImm26(encBL, pc, operands)
	case strings.HasPrefix(mnemonic, "b."):
		word, err = encodeCond(pc, strings.TrimPrefix(mnemonic, "b."), operands)
	case mnemonic == "cbz":
		word, err = encodeCompare(encCBZ, pc, operands)
	case mnemonic == "cbnz":
		word, err = encodeCompare(encCBNZ, pc, operands)
	case mnemonic == "":
		err = fmt.Errorf("empty instruction: %w", ErrUnknownMnemonic)
	default:
		err = fmt.Errorf("%s: %w", mnemonic, ErrUnknownMnemonic)
	}
	if err != nil {
		return 0, fmt.Errorf("assemble %q at %x: %w", text, pc, err)
	}
	return word, nil
}

// MustEncode panics when text cannot be encoded. It is meant for fixtures.
func MustEncode(pc uint64, text string) uint32 {
	w, err := Encode(pc, text)
	if err != nil {
		panic(err)
	}
	return w
}

func split(text string) (string, []string) {
	text = strings.ToLower(strings.TrimSpace(text))
	mnemonic, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return mnemonic, nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return mnemonic, parts
}

func encodeBare(enc uint32, operands []string) (uint32, error) {
	if len(operands) != 0 {
		return 0, fmt.Errorf("unexpected operands %v: %w", operands, ErrOperand)
	}
	return enc, nil
}

func encodeRet(operands []string) (uint32, error) {
	rn := uint32(regLR)
	switch len(operands) {
	case 0:
	case 1:
		r, is64, err := parseReg(operands[0])
		if err != nil {
			return 0, err
		}
		if !is64 {
			return 0, fmt.Errorf("ret needs an x register, got %s: %w", operands[0], ErrOperand)
		}
		rn = r
	default:
		return 0, fmt.Errorf("ret takes at most one operand: %w", ErrOperand)
	}
	return encRET | rn<<5, nil
}

func encodeImm26(enc uint32, pc uint64, operands []string) (uint32, error) {
	if len(operands) != 1 {
		return 0, fmt.Errorf("want 1 operand, got %d: %w", len(operands), ErrOperand)
	}
	imm, err := branchOffset(pc, operands[0], 26)
	if err != nil {
		return 0, err
	}
	return enc | imm, nil
}

func encodeCond(pc uint64, cond string, operands []string) (uint32, error) {
	c, ok := conds[cond]
	if !ok {
		return 0, fmt.Errorf("condition %q: %w", cond, ErrUnknownMnemonic)
	}
	if len(operands) != 1 {
		return 0, fmt.Errorf("want 1 operand, got %d: %w", len(operands), ErrOperand)
	}
	imm, err := branchOffset(pc, operands[0], 19)
	if err != nil {
		return 0, err
	}
	return encBCC | imm<<5 | c, nil
}

func encodeCompare(enc uint32, pc uint64, operands []string) (uint32, error) {
	if len(operands) != 2 {
		return 0, fmt.Errorf("want 2 operands, got %d: %w", len(operands), ErrOperand)
	}
	rt, is64, err := parseReg(operands[0])
	if err != nil {
		return 0, err
	}
	imm, err := branchOffset(pc, operands[1], 19)
	if err != nil {
		return 0, err
	}
	if is64 {
		enc |= sf64
	}
	return enc | imm<<5 | rt, nil
}

// branchOffset returns the word offset from pc to the target literal,
// truncated to a bits-wide two's complement field.
func branchOffset(pc uint64, literal string, bits uint) (uint32, error) {
	target, err := ParseAddress(literal)
	if err != nil {
		return 0, err
	}
	if target%4 != 0 {
		return 0, fmt.Errorf("target %x: %w", target, ErrMisaligned)
	}
	off := int64(target-pc) >> 2
	limit := int64(1) << (bits - 1)
	if off < -limit || off >= limit {
		return 0, fmt.Errorf("target %x from %x: %w", target, pc, ErrOutOfRange)
	}
	return uint32(off) & (1<<bits - 1), nil
}

// ParseAddress parses a hexadecimal address literal.
func ParseAddress(literal string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(literal), "#")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("address %q: %w", literal, ErrOperand)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", literal, ErrOperand)
	}
	return v, nil
}

func parseReg(s string) (uint32, bool, error) {
	switch s {
	case "xzr":
		return regZR, true, nil
	case "wzr":
		return regZR, false, nil
	case "lr":
		return regLR, true, nil
	}
	if len(s) < 2 || (s[0] != 'x' && s[0] != 'w') {
		return 0, false, fmt.Errorf("register %q: %w", s, ErrOperand)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 30 {
		return 0, false, fmt.Errorf("register %q: %w", s, ErrOperand)
	}
	return uint32(n), s[0] == 'x', nil
}
