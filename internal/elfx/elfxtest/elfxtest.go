// Package elfxtest builds small AArch64 ELF shared objects for tests.
//
// Every image has a single R+X PT_LOAD mapping file offset N to virtual
// address N. Functions are placed at the addresses the caller picks
// (at least 0x1000 and below PLTBase). Imports get PLT stubs at PLTBase
// backed by GOT slots at GOTBase, with matching .dynsym and .rela.plt
// entries.
package elfxtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"testing"

	"nativepatch/internal/asm"
)

const (
	PLTBase = 0x8000
	GOTBase = 0x9000

	textMin = 0x1000
)

type function struct {
	name  string
	addr  uint64
	words []uint32
}

// Builder accumulates functions and imports.
type Builder struct {
	Machine elf.Machine
	Type    elf.Type
	funcs   []function
	imports []string
}

// New returns a builder for an AArch64 ET_DYN image.
func New() *Builder {
	return &Builder{Machine: elf.EM_AARCH64, Type: elf.ET_DYN}
}

// Func adds a function at addr made of the given instruction words.
func (b *Builder) Func(name string, addr uint64, words ...uint32) *Builder {
	b.funcs = append(b.funcs, function{name: name, addr: addr, words: words})
	return b
}

// Asm adds a function at addr, assembling one text per instruction.
func (b *Builder) Asm(name string, addr uint64, texts ...string) *Builder {
	words := make([]uint32, len(texts))
	for i, text := range texts {
		words[i] = asm.MustEncode(addr+uint64(4*i), text)
	}
	return b.Func(name, addr, words...)
}

// Import declares an imported function and returns its PLT stub address.
func (b *Builder) Import(name string) uint64 {
	b.imports = append(b.imports, name)
	return StubAddr(len(b.imports) - 1)
}

// StubAddr is the PLT stub address of the i-th import.
func StubAddr(i int) uint64 {
	return PLTBase + uint64(i+1)*16
}

func gotSlot(i int) uint64 {
	return GOTBase + uint64(3+i)*8
}

// WriteFile writes the image to path and returns path.
func (b *Builder) WriteFile(t testing.TB, path string) string {
	t.Helper()
	if err := os.WriteFile(path, b.Bytes(), 0o755); err != nil {
		t.Fatalf("write elf fixture: %v", err)
	}
	return path
}

// Bytes renders the ELF image.
func (b *Builder) Bytes() []byte {
	funcs := append([]function(nil), b.funcs...)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].addr < funcs[j].addr })

	textStart, textEnd := uint64(textMin), uint64(textMin)
	if len(funcs) > 0 {
		textStart = funcs[0].addr
	}
	for _, f := range funcs {
		if f.addr < textMin || f.addr%4 != 0 {
			panic(fmt.Sprintf("elfxtest: function %s at %#x", f.name, f.addr))
		}
		if end := f.addr + uint64(4*len(f.words)); end > textEnd {
			textEnd = end
		}
	}

	loadEnd := textEnd
	var pltVA, pltSize, gotVA, gotSize uint64
	if len(b.imports) > 0 {
		pltVA, gotVA = PLTBase, GOTBase
		if textEnd > PLTBase {
			panic("elfxtest: text overlaps the PLT")
		}
		pltSize = uint64(len(b.imports)+1) * 16
		gotSize = uint64(len(b.imports)+3) * 8
		loadEnd = GOTBase + gotSize
	}

	img := make([]byte, loadEnd)
	for _, f := range funcs {
		for i, w := range f.words {
			binary.LittleEndian.PutUint32(img[f.addr+uint64(4*i):], w)
		}
	}
	for i := range b.imports {
		stub := StubAddr(i)
		for j, w := range pltStub(stub, gotSlot(i)) {
			binary.LittleEndian.PutUint32(img[stub+uint64(4*j):], w)
		}
	}

	// Dynamic symbols: null entry, then imports.
	dynstr := newStrtab()
	var dynsym bytes.Buffer
	write(&dynsym, elf.Sym64{})
	for _, name := range b.imports {
		write(&dynsym, elf.Sym64{
			Name: dynstr.add(name),
			Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
		})
	}
	var rela bytes.Buffer
	for i := range b.imports {
		write(&rela, elf.Rela64{
			Off:  gotSlot(i),
			Info: elf.R_INFO(uint32(i+1), uint32(elf.R_AARCH64_JUMP_SLOT)),
		})
	}

	strtab := newStrtab()
	var symtab bytes.Buffer
	write(&symtab, elf.Sym64{})
	for _, f := range funcs {
		write(&symtab, elf.Sym64{
			Name:  strtab.add(f.name),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
			Value: f.addr,
			Size:  uint64(4 * len(f.words)),
		})
	}

	shstr := newStrtab()
	type blob struct {
		hdr  elf.Section64
		data []byte
	}
	// Index 0 is the null section; links below refer to this order.
	blobs := []blob{
		{hdr: elf.Section64{Name: shstr.add(".text"), Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: textStart, Off: textStart, Size: textEnd - textStart, Addralign: 4}},
		{hdr: elf.Section64{Name: shstr.add(".plt"), Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: pltVA, Off: pltVA, Size: pltSize, Addralign: 16}},
		{hdr: elf.Section64{Name: shstr.add(".got.plt"), Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			Addr: gotVA, Off: gotVA, Size: gotSize, Addralign: 8}},
		{hdr: elf.Section64{Name: shstr.add(".dynsym"), Type: uint32(elf.SHT_DYNSYM), Link: 5, Info: 1, Addralign: 8, Entsize: 24},
			data: dynsym.Bytes()},
		{hdr: elf.Section64{Name: shstr.add(".dynstr"), Type: uint32(elf.SHT_STRTAB), Addralign: 1},
			data: dynstr.bytes()},
		{hdr: elf.Section64{Name: shstr.add(".rela.plt"), Type: uint32(elf.SHT_RELA), Link: 4, Info: 2, Addralign: 8, Entsize: 24},
			data: rela.Bytes()},
		{hdr: elf.Section64{Name: shstr.add(".symtab"), Type: uint32(elf.SHT_SYMTAB), Link: 8, Info: 1, Addralign: 8, Entsize: 24},
			data: symtab.Bytes()},
		{hdr: elf.Section64{Name: shstr.add(".strtab"), Type: uint32(elf.SHT_STRTAB), Addralign: 1},
			data: strtab.bytes()},
	}
	shstrndx := len(blobs) + 1
	blobs = append(blobs, blob{hdr: elf.Section64{Name: shstr.add(".shstrtab"), Type: uint32(elf.SHT_STRTAB), Addralign: 1}})
	blobs[len(blobs)-1].data = shstr.bytes()

	var out bytes.Buffer
	out.Write(img)
	for i := range blobs {
		if blobs[i].data == nil {
			continue
		}
		pad(&out, 8)
		blobs[i].hdr.Off = uint64(out.Len())
		blobs[i].hdr.Size = uint64(len(blobs[i].data))
		out.Write(blobs[i].data)
	}
	pad(&out, 8)
	shoff := uint64(out.Len())
	write(&out, elf.Section64{})
	for _, bl := range blobs {
		write(&out, bl.hdr)
	}

	data := out.Bytes()
	var head bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	write(&head, elf.Header64{
		Ident:     ident,
		Type:      uint16(b.Type),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     0,
		Phoff:     64,
		Shoff:     shoff,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
		Shentsize: 64,
		Shnum:     uint16(len(blobs) + 1),
		Shstrndx:  uint16(shstrndx),
	})
	write(&head, elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Filesz: loadEnd,
		Memsz:  loadEnd,
		Align:  0x1000,
	})
	copy(data, head.Bytes())
	return data
}

// pltStub encodes adrp/ldr/add/br through the GOT slot.
func pltStub(stub, got uint64) []uint32 {
	page := int64(got&^0xfff) - int64(stub&^0xfff)
	imm := uint32(page>>12) & 0x1fffff
	lo := got & 0xfff
	return []uint32{
		0x90000010 | (imm&3)<<29 | (imm>>2)<<5,
		0xf9400211 | uint32(lo/8)<<10,
		0x91000210 | uint32(lo)<<10,
		0xd61f0220,
	}
}

type strtab struct{ buf bytes.Buffer }

func newStrtab() *strtab {
	s := &strtab{}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(name string) uint32 {
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

func (s *strtab) bytes() []byte { return s.buf.Bytes() }

func write(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}

func pad(buf *bytes.Buffer, align int) {
	for buf.Len()%align != 0 {
		buf.WriteByte(0)
	}
}
