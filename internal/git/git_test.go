package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func TestParseStatusPorcelain(t *testing.T) {
	input := ` M internal/storage/lock.go
A  internal/rpc/dispatcher.go
?? docs/notes.md
R  old/name.go -> new/name.go
 D removed.go
?? "with space.txt"
 M internal/storage/lock.go
`
	files := ParseStatusPorcelain(input)
	assert.Equal(t, []string{
		"docs/notes.md",
		"internal/rpc/dispatcher.go",
		"internal/storage/lock.go",
		"new/name.go",
		"removed.go",
		"with space.txt",
	}, files)
}

func TestParseStatusPorcelain_Empty(t *testing.T) {
	assert.Nil(t, ParseStatusPorcelain(""))
	assert.Nil(t, ParseStatusPorcelain("\n"))
}

func TestRealClient_ChangedFiles(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	initTestRepo(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "a.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644))

	c := NewClient()
	files, err := c.ChangedFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "pkg/a.go"}, files)

	root, err := c.RepoRoot(filepath.Join(dir, "pkg"))
	require.NoError(t, err)
	wantRoot, _ := filepath.EvalSymlinks(dir)
	gotRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, wantRoot, gotRoot)
}

func TestRealClient_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := NewClient().ChangedFiles(t.TempDir())
	assert.Error(t, err)
}
