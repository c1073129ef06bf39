// Package elfx provides helpers for opening ELF binaries, locating sections, and mapping virtual addresses to file offsets.
//
// The image is held as a private in-memory copy so that callers can patch
// bytes without touching the file until they write it back.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrUnmapped = errors.New("address not mapped")
	ErrNotExec  = errors.New("address not in an executable segment")
)

type Image struct {
	Path     string
	File     *elf.File
	All      []byte
	Loads    []Seg
	PLT      Section
	Dynsyms  []DynSym
	Syms     []DynSym
	PLTStubs []PLTStub
	PLTRels  []PLTRel
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

type DynSym struct {
	Name   string
	Addr   uint64
	Size   uint64
	IsFunc bool
	IsPLT  bool
}

type PLTStub struct {
	Addr    uint64
	GOTAddr uint64
	Index   int
}

type PLTRel struct {
	Offset   uint64
	SymIndex uint32
	SymName  string
	PLTAddr  uint64
}

// PLTStubSize is the size of one AArch64 PLT entry.
const PLTStubSize = 16

func Open(path string) (*Image, error) {
	all, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	im, err := Parse(all)
	if err != nil {
		return nil, err
	}
	im.Path = path
	return im, nil
}

// Parse builds an Image over data. The image keeps data as its buffer.
func Parse(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	im := &Image{File: f, All: data}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Name == ".plt" {
			im.PLT = Section{s.Name, s.Addr, s.Offset, s.Size}
		}
	}

	im.loadDynamicSymbols()
	im.loadStaticSymbols()

	// Stubs first so relocations can be matched to their PLT address.
	im.parsePLTStubs()
	im.parsePLTRelocations()
	return im, nil
}

// Close releases the parsed ELF file. The byte buffer stays valid.
func (im *Image) Close() error {
	if im.File == nil {
		return nil
	}
	err := im.File.Close()
	im.File = nil
	return err
}

// Machine returns the ELF e_machine, or EM_NONE once closed.
func (im *Image) Machine() elf.Machine {
	if im.File == nil {
		return elf.EM_NONE
	}
	return im.File.Machine
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	if l, ok := im.segment(va); ok {
		return l.Off + (va - l.Vaddr), true
	}
	return 0, false
}

func (im *Image) segment(va uint64) (Seg, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l, true
		}
	}
	return Seg{}, false
}

// IsExec reports whether [va, va+size) lies inside one executable PT_LOAD.
func (im *Image) IsExec(va, size uint64) bool {
	l, ok := im.segment(va)
	if !ok || l.Flags&elf.PF_X == 0 {
		return false
	}
	return size <= l.Vaddr+l.Filesz-va
}

// SliceVA returns a subslice of the file image corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end < off || end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// ReadBytesVA reads exactly size bytes from a virtual address.
// Returns false if VA is unmapped or size extends beyond file bounds.
func (im *Image) ReadBytesVA(va uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return []byte{}, true
	}
	return im.SliceVA(va, uint64(size))
}

// WriteVA overwrites the image bytes at va with b.
func (im *Image) WriteVA(va uint64, b []byte) error {
	dst, ok := im.SliceVA(va, uint64(len(b)))
	if !ok || len(dst) != len(b) {
		return fmt.Errorf("write %d bytes at %x: %w", len(b), va, ErrUnmapped)
	}
	copy(dst, b)
	return nil
}

// loadDynamicSymbols loads dynamic symbols from .dynsym section
// to enable PLT resolution.
func (im *Image) loadDynamicSymbols() {
	if im.File.Section(".dynsym") == nil {
		return
	}
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return
	}
	for _, sym := range dynsyms {
		im.Dynsyms = append(im.Dynsyms, toDynSym(sym))
	}
}

// loadStaticSymbols loads static symbols from .symtab section as fallback
// for stripped binaries where .dynsym doesn't contain every function.
func (im *Image) loadStaticSymbols() {
	syms, err := im.File.Symbols()
	if err != nil {
		return // .symtab not available or stripped
	}
	for _, sym := range syms {
		// Skip undefined symbols
		if sym.Value == 0 {
			continue
		}
		im.Syms = append(im.Syms, toDynSym(sym))
	}
}

func toDynSym(sym elf.Symbol) DynSym {
	return DynSym{
		Name:   sym.Name,
		Addr:   sym.Value,
		Size:   sym.Size,
		IsFunc: elf.ST_TYPE(sym.Info) == elf.STT_FUNC,
		IsPLT:  strings.HasSuffix(sym.Name, "@plt"),
	}
}

// parsePLTRelocations parses .rela.plt (or .rel.plt) to map PLT entries to symbols.
func (im *Image) parsePLTRelocations() {
	// ARM64 uses RELA: r_offset(8) + r_info(8) + r_addend(8)
	section, entrySize := im.File.Section(".rela.plt"), 24
	if section == nil {
		// REL: r_offset(8) + r_info(8)
		section, entrySize = im.File.Section(".rel.plt"), 16
	}
	if section == nil {
		return
	}
	data, err := section.Data()
	if err != nil {
		return
	}
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return
	}

	for off := 0; off+entrySize <= len(data); off += entrySize {
		rOffset := binary.LittleEndian.Uint64(data[off:])
		rInfo := binary.LittleEndian.Uint64(data[off+8:])
		symIndex := uint32(rInfo >> 32)

		var symName string
		// DynamicSymbols drops the null entry, so index n is dynsyms[n-1]
		if symIndex > 0 && int(symIndex) <= len(dynsyms) {
			symName = dynsyms[symIndex-1].Name
		}

		var pltAddr uint64
		for _, stub := range im.PLTStubs {
			if stub.GOTAddr == rOffset {
				pltAddr = stub.Addr
				break
			}
		}

		im.PLTRels = append(im.PLTRels, PLTRel{
			Offset:   rOffset,
			SymIndex: symIndex,
			SymName:  symName,
			PLTAddr:  pltAddr,
		})
	}
}

// parsePLTStubs scans the .plt section and records each stub's GOT slot.
func (im *Image) parsePLTStubs() {
	if im.PLT.Size == 0 {
		return
	}
	// PLT[0] is the resolver stub; function stubs follow, 16 bytes each.
	for i := uint64(1); (i+1)*PLTStubSize <= im.PLT.Size; i++ {
		stubAddr := im.PLT.VA + i*PLTStubSize
		if gotAddr, ok := im.parsePLTStub(stubAddr); ok {
			im.PLTStubs = append(im.PLTStubs, PLTStub{
				Addr:    stubAddr,
				GOTAddr: gotAddr,
				Index:   int(i),
			})
		}
	}
}

// IsPLTEntry returns true if the given virtual address lies within
// the PLT section, indicating it's a dynamically linked function stub.
func (im *Image) IsPLTEntry(va uint64) bool {
	if im.PLT.Size == 0 {
		return false
	}
	return va >= im.PLT.VA && va < im.PLT.VA+im.PLT.Size
}

// PLTSymbol returns the imported symbol name behind the PLT stub at va.
func (im *Image) PLTSymbol(va uint64) (string, bool) {
	for _, rel := range im.PLTRels {
		if rel.PLTAddr == va && rel.SymName != "" {
			return rel.SymName, true
		}
	}
	return "", false
}

// parsePLTStub parses an ARM64 PLT stub to extract the GOT address.
// Standard ARM64 PLT stub format:
//
//	adrp x16, <page>         ; Load page address
//	ldr  x17, [x16, #offset] ; Load GOT entry
//	add  x16, x16, #offset   ; Prepare GOT entry address
//	br   x17                 ; Branch to target
func (im *Image) parsePLTStub(pltAddr uint64) (uint64, bool) {
	stubData, ok := im.SliceVA(pltAddr, PLTStubSize)
	if !ok || len(stubData) < PLTStubSize {
		return 0, false
	}

	adrpInsn := binary.LittleEndian.Uint32(stubData[0:])
	if (adrpInsn & 0x9f00001f) != 0x90000010 { // adrp x16 pattern
		return 0, false
	}
	immLo := (adrpInsn >> 29) & 3
	immHi := (adrpInsn >> 5) & 0x7ffff
	pageOffset := int64((immHi << 2) | immLo)
	if pageOffset&(1<<20) != 0 { // Sign extend
		pageOffset |= ^((1 << 21) - 1)
	}
	pageOffset <<= 12 // adrp works on 4KB pages
	pageBase := int64(pltAddr&^0xfff) + pageOffset

	ldrInsn := binary.LittleEndian.Uint32(stubData[4:])
	if (ldrInsn & 0xffc003ff) != 0xf9400211 { // ldr x17, [x16, #imm] pattern
		return 0, false
	}
	offset := (ldrInsn >> 10) & 0xfff
	offset <<= 3 // Scale by 8 for 64-bit load

	return uint64(pageBase) + uint64(offset), true
}
