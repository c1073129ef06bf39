package program

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativepatch/internal/asm"
	"nativepatch/internal/elfx"
	"nativepatch/internal/elfx/elfxtest"
	"nativepatch/internal/patch"
)

// onLoad builds JNI_OnLoad calling the imported obfs_check1_finish and
// testing its result with cbz two instructions later.
func onLoad(t *testing.T) (string, uint64) {
	t.Helper()
	b := elfxtest.New()
	stub := b.Import("obfs_check1_finish")
	b.Func("JNI_OnLoad", 0x1000,
		0xa9bf7bfd, // stp x29, x30, [sp, #-16]!
		0x910003fd, // mov x29, sp
		asm.MustEncode(0x1008, fmt.Sprintf("bl %#x", stub)),
		0x2a0003e8, // mov w8, w0
		asm.MustEncode(0x1010, "cbz w8, 0x101c"),
		0x528000c0, // mov w0, #6
		0xa8c17bfd, // ldp x29, x30, [sp], #16
		0xd65f03c0, // ret
	)
	b.Func("_ZN4Game4initEv", 0x1100, 0xd65f03c0)
	return b.WriteFile(t, filepath.Join(t.TempDir(), "libgame.so")), stub
}

func open(t *testing.T, path string) *Program {
	t.Helper()
	p, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestFunctions(t *testing.T) {
	path, stub := onLoad(t)
	p := open(t, path)

	fns := p.Functions()
	require.Len(t, fns, 3)
	assert.Equal(t, "JNI_OnLoad", fns[0].Name)
	assert.Equal(t, uint64(0x1000), fns[0].Entry)
	assert.Equal(t, uint64(0x101f), fns[0].End)
	assert.Equal(t, "Game::init()", fns[1].DisplayName())
	assert.Equal(t, "obfs_check1_finish", fns[2].Name)
	assert.Equal(t, stub, fns[2].Entry)
	assert.Equal(t, stub+15, fns[2].End)

	f, ok := p.FunctionAt(stub)
	require.True(t, ok)
	assert.Equal(t, "obfs_check1_finish", f.Name)
	_, ok = p.FunctionAt(0x1004)
	assert.False(t, ok, "only exact entries match")

	f, ok = p.FindFunction("Game::init()")
	require.True(t, ok)
	assert.Equal(t, "_ZN4Game4initEv", f.Name)

	assert.Equal(t, "libgame.so", p.Name())
	assert.Equal(t, path, p.ExecutablePath())
}

func TestInstructionAt(t *testing.T) {
	path, stub := onLoad(t)
	p := open(t, path)

	in, ok := p.InstructionAt(0x1008)
	require.True(t, ok)
	assert.Equal(t, "bl", in.Op)
	assert.Equal(t, []uint64{stub}, in.Flows)

	in, ok = p.InstructionAt(0x1010)
	require.True(t, ok)
	assert.Equal(t, "cbz", in.Op)
	assert.Equal(t, "0x101c", in.Arg(1))

	_, ok = p.InstructionAt(0x1002)
	assert.False(t, ok, "unaligned")
	_, ok = p.InstructionAt(0x200000)
	assert.False(t, ok, "unmapped")
}

func TestAssembler(t *testing.T) {
	path, _ := onLoad(t)
	p := open(t, path)

	a, err := p.Assembler()
	require.NoError(t, err)
	require.NoError(t, a.Assemble(0x1014, "nop"))
	in, ok := p.InstructionAt(0x1014)
	require.True(t, ok)
	assert.Equal(t, "nop", in.Op)

	assert.ErrorIs(t, a.Assemble(0x200000, "nop"), elfx.ErrNotExec)
	assert.ErrorIs(t, a.Assemble(0x1014, "frobnicate"), asm.ErrUnknownMnemonic)
}

func TestAssemblerRejectsOtherMachines(t *testing.T) {
	b := elfxtest.New()
	b.Machine = elf.EM_X86_64
	b.Func("JNI_OnLoad", 0x1000, 0xc3c3c3c3)
	p := open(t, b.WriteFile(t, filepath.Join(t.TempDir(), "libx86.so")))

	_, err := p.Assembler()
	assert.ErrorIs(t, err, ErrUnsupportedMachine)
	assert.Contains(t, err.Error(), "EM_X86_64")

	out := patch.NewSession(patch.DefaultPolicy(), FileExporter{}, nil).Run(p)
	assert.Equal(t, patch.StatusNoAssembler, out.Status)
}

func TestSessionPatchesFile(t *testing.T) {
	path, _ := onLoad(t)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	var logs bytes.Buffer
	p := open(t, path)
	out := patch.NewSession(patch.DefaultPolicy(), FileExporter{Backup: true}, log.New(&logs)).Run(p)
	require.Equal(t, patch.StatusPatched, out.Status, logs.String())
	assert.True(t, out.Exported)

	patched := open(t, path)
	for _, va := range []uint64{0x1008, 0x1010} {
		in, ok := patched.InstructionAt(va)
		require.True(t, ok)
		assert.Equal(t, "nop", in.Op, "at %#x", va)
	}
	in, _ := patched.InstructionAt(0x100c)
	assert.Equal(t, "mov", in.Op, "untouched")

	bak, err := os.ReadFile(path + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, original, bak)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())

	again := patch.NewSession(patch.DefaultPolicy(), FileExporter{Backup: true}, nil).Run(patched)
	assert.Equal(t, patch.StatusUnchanged, again.Status)
}

func TestSessionRewritesCbnz(t *testing.T) {
	b := elfxtest.New()
	b.Asm("obfs_check1_finish", 0x1100, "ret")
	b.Asm("JNI_OnLoad", 0x1000, "bl 0x1100", "cbnz w0, 0x100c", "nop", "ret")
	path := b.WriteFile(t, filepath.Join(t.TempDir(), "liblocal.so"))

	p := open(t, path)
	out := patch.NewSession(patch.DefaultPolicy(), FileExporter{}, nil).Run(p)
	require.Equal(t, patch.StatusPatched, out.Status)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, "b 0x100c", out.Attempts[1].Text)

	in, ok := open(t, path).InstructionAt(0x1004)
	require.True(t, ok)
	assert.Equal(t, "b", in.Op)
	assert.Equal(t, []uint64{0x100c}, in.Flows)
	_, err := os.Stat(path + BackupSuffix)
	assert.True(t, os.IsNotExist(err), "no backup unless asked")
}

func TestBackupKeepsFirstOriginal(t *testing.T) {
	path, _ := onLoad(t)
	require.NoError(t, os.WriteFile(path+BackupSuffix, []byte("older"), 0o644))

	p := open(t, path)
	require.NoError(t, FileExporter{Backup: true}.Export(path, p))

	bak, err := os.ReadFile(path + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, "older", string(bak))
}

func TestExportNeedsImage(t *testing.T) {
	err := FileExporter{}.Export(filepath.Join(t.TempDir(), "x.so"), stubProgram{})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestDryRunExporter(t *testing.T) {
	path, _ := onLoad(t)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	var logs bytes.Buffer
	p := open(t, path)
	out := patch.NewSession(patch.DefaultPolicy(), DryRunExporter{Logger: log.New(&logs)}, nil).Run(p)
	assert.Equal(t, patch.StatusPatched, out.Status)
	assert.False(t, out.Exported, "nothing was written")
	assert.Contains(t, logs.String(), "Dry run")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestListing(t *testing.T) {
	path, stub := onLoad(t)
	p := open(t, path)
	fn, ok := p.FindFunction("JNI_OnLoad")
	require.True(t, ok)

	lines := p.Listing(fn, patch.Substrings{"obfs_check1"})
	require.Len(t, lines, 8)
	call := lines[2]
	assert.Equal(t, uint64(0x1008), call.Inst.VA)
	assert.Equal(t, "obfs_check1_finish", call.Target)
	assert.True(t, call.Guard)
	assert.Contains(t, call.String(), fmt.Sprintf("%#x", stub))
	assert.Contains(t, call.String(), "; obfs_check1_finish, guard")
	assert.Equal(t, "ret", lines[7].Inst.Op)
	assert.NotContains(t, lines[7].String(), ";")

	for _, l := range p.Listing(fn, nil) {
		assert.False(t, l.Guard)
	}
}

func TestDemangleCache(t *testing.T) {
	before, hits := DemangleCacheStats()
	assert.Equal(t, "Game::init()", CachedDemangle("_ZN4Game4initEv"))
	assert.Equal(t, "Game::init()", CachedDemangle("_ZN4Game4initEv"))
	assert.Equal(t, "JNI_OnLoad", CachedDemangle("JNI_OnLoad"))
	after, hitsAfter := DemangleCacheStats()
	assert.GreaterOrEqual(t, after, before)
	assert.Greater(t, hitsAfter, hits)
}

type stubProgram struct{ patch.Program }

func (stubProgram) Name() string { return "stub" }
