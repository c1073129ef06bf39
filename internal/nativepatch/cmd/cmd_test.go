package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativepatch/internal/asm"
	"nativepatch/internal/batch"
	"nativepatch/internal/elfx/elfxtest"
	"nativepatch/internal/logging"
	"nativepatch/internal/patch"
	"nativepatch/internal/program"
)

func guardedLib(t *testing.T, path string) string {
	t.Helper()
	b := elfxtest.New()
	stub := b.Import("obfs_check1_finish")
	b.Func("JNI_OnLoad", 0x1000,
		asm.MustEncode(0x1000, fmt.Sprintf("bl %#x", stub)),
		asm.MustEncode(0x1004, "cbnz w0, 0x100c"),
		asm.MustEncode(0x1008, "nop"),
		0xd65f03c0, // ret
	)
	return b.WriteFile(t, path)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NATIVEPATCH_LOG_TO_FILE", "")
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPatchJSON(t *testing.T) {
	dir := t.TempDir()
	lib := guardedLib(t, filepath.Join(dir, "libgame.so"))

	out, err := run(t, "--json", "--backup", dir)
	require.NoError(t, err)

	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Summary.Patched)
	require.Len(t, report.Results, 1)
	assert.Equal(t, lib, report.Results[0].Path)
	assert.Equal(t, "b 0x100c", report.Results[0].Attempts[1].Text)
	assert.FileExists(t, lib+program.BackupSuffix)

	p, err := program.Open(lib)
	require.NoError(t, err)
	defer p.Close()
	in, ok := p.InstructionAt(0x1004)
	require.True(t, ok)
	assert.Equal(t, "b", in.Op)
}

func TestPatchMarkdownDryRun(t *testing.T) {
	lib := guardedLib(t, filepath.Join(t.TempDir(), "libgame.so"))
	before, err := os.ReadFile(lib)
	require.NoError(t, err)

	out, err := run(t, "--no-tui", "--dry-run", lib)
	require.NoError(t, err)
	assert.Contains(t, out, "| `libgame.so` | patched | JNI_OnLoad | 2/2 | - |")
	assert.Contains(t, out, "dry run")

	after, err := os.ReadFile(lib)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPatchStrict(t *testing.T) {
	dir := t.TempDir()
	guardedLib(t, filepath.Join(dir, "libgame.so"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libbroken.so"), []byte("\x7fELF????"), 0o644))

	_, err := run(t, "--json", dir)
	require.NoError(t, err, "failures are reported, not fatal")

	_, err = run(t, "--json", "--strict", dir)
	assert.ErrorIs(t, err, ErrFailed)
}

func TestPatchNoFiles(t *testing.T) {
	_, err := run(t, "--json", t.TempDir())
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestPatchCustomEntry(t *testing.T) {
	lib := guardedLib(t, filepath.Join(t.TempDir(), "libgame.so"))

	out, err := run(t, "--json", "--entry", "Java_init", lib)
	require.NoError(t, err)
	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, patch.StatusNoEntryPoint.String(), report.Results[0].Status)
	assert.Equal(t, 1, report.Summary.Skipped)
}

func TestLoadConfigPrecedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nativepatch.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"guardPatterns":["integrity_"],"backup":true}`), 0o644))

	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--config", cfgPath, "--guard", "obfs_", "--guard", "check_", "--backup=false"}))
	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"obfs_", "check_"}, cfg.GuardPatterns)
	assert.False(t, cfg.Backup)
	assert.Equal(t, "JNI_OnLoad", cfg.EntryPoint)

	root = newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--entry", ""}))
	_, err = loadConfig(root)
	assert.Error(t, err)
}

func TestDebugEnabled(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		level string
		want  bool
	}{
		{"default", nil, "", false},
		{"flag", []string{"-d"}, "", true},
		{"env", nil, "debug", true},
		{"other env level", nil, "warn", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(logging.EnvLevel, tt.level)
			root := newRootCmd()
			require.NoError(t, root.ParseFlags(tt.args))
			assert.Equal(t, tt.want, debugEnabled(root))
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "nativepatch version "+Version)
}

func TestShow(t *testing.T) {
	lib := guardedLib(t, filepath.Join(t.TempDir(), "libgame.so"))

	out, err := run(t, "show", lib)
	require.NoError(t, err)
	assert.Contains(t, out, "; JNI_OnLoad 0x1000-0x100f")
	assert.Contains(t, out, "; obfs_check1_finish, guard")
	assert.NotContains(t, out, "\x1b[", "no color when piped")

	out, err = run(t, "show", lib, "--func", "obfs_check1_finish")
	require.NoError(t, err)
	assert.Contains(t, out, "adrp")

	_, err = run(t, "show", lib, "--func", "missing")
	assert.ErrorContains(t, err, "function missing not found")
}

func TestSchema(t *testing.T) {
	out, err := run(t, "schema")
	require.NoError(t, err)
	for _, field := range []string{"entryPoint", "guardPatterns", "epiloguePatterns", "dryRun", "extensions"} {
		assert.Contains(t, out, field)
	}
}

func TestLogs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nativepatch-20261014-101500-debug.log"), []byte("INFO Patching addr=0x1000\n"), 0o644))

	out, err := run(t, "logs", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "INFO Patching addr=0x1000\n", out)

	_, err = run(t, "logs", "--dir", t.TempDir())
	assert.Error(t, err)
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(&batch.Report{
		Results: []batch.Result{
			{Path: "/x/liba.so", Status: "export-failed", Function: "JNI_OnLoad",
				Attempts: []patch.Attempt{{OK: true}, {OK: false}}, Err: "a|b"},
		},
		Summary: batch.Summary{Total: 1, Failed: 1},
	})
	assert.Contains(t, md, "**1** library")
	assert.Contains(t, md, "| `liba.so` | export-failed | JNI_OnLoad | 1/2 | a\\|b |")
	assert.False(t, strings.Contains(md, "dry run"))
}
