package roots

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveAbsoluteUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewSet([]string{root})
	require.NoError(t, err)

	target := filepath.Join(root, "x.py")
	writeFile(t, target, "print(1)")

	res, err := s.Resolve(target, "")
	require.NoError(t, err)
	assert.False(t, res.NewFile)
	assert.Equal(t, filepath.Clean(target), res.Resolved)
}

func TestResolveAbsoluteOutsideRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewSet([]string{root})
	require.NoError(t, err)

	_, err = s.Resolve("/definitely/not/under/root.py", "")
	require.Error(t, err)
	assert.Equal(t, taskerr.OutOfRoots, taskerr.KindOf(err))
}

func TestResolveRelativeJoinsBaseDir(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	s, err := NewSet([]string{root})
	require.NoError(t, err)

	res, err := s.Resolve("nested/new.py", sub)
	require.NoError(t, err)
	assert.True(t, res.NewFile)
	assert.Equal(t, filepath.Join(sub, "nested", "new.py"), res.Resolved)
}

func TestResolveBareNameUnique(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "hello.txt")
	writeFile(t, target, "hi")

	s, err := NewSet([]string{root})
	require.NoError(t, err)

	res, err := s.Resolve("HELLO.TXT", "")
	require.NoError(t, err)
	assert.False(t, res.NewFile)
	assert.Equal(t, filepath.Clean(target), res.Resolved)
}

func TestResolveBareNameAmbiguous(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "x.py"), "1")
	writeFile(t, filepath.Join(root, "b", "x.py"), "2")

	s, err := NewSet([]string{root})
	require.NoError(t, err)

	_, err = s.Resolve("x.py", "")
	require.Error(t, err)
	assert.Equal(t, taskerr.Ambiguous, taskerr.KindOf(err))
}

func TestResolveBareNameNewFilePlacement(t *testing.T) {
	root := t.TempDir()
	s, err := NewSet([]string{root})
	require.NoError(t, err)

	res, err := s.Resolve("brand_new.py", "")
	require.NoError(t, err)
	assert.True(t, res.NewFile)
	assert.Equal(t, filepath.Join(root, "brand_new.py"), res.Resolved)
}

func TestEnumerateSkipsExcluded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.go"), "package x")
	writeFile(t, filepath.Join(root, "vendor", "dep.go"), "package y")

	s, err := NewSet([]string{root})
	require.NoError(t, err)

	paths, err := s.Enumerate(root, true, map[string]bool{"vendor": true})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(root, "keep.go"), paths[0])
}
