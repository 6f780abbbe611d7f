package remotefs_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpsync/mpsync/internal/devicetest"
	"github.com/mpsync/mpsync/internal/remotefs"
	"github.com/mpsync/mpsync/internal/repl"
	"github.com/mpsync/mpsync/internal/transport"
)

func newFS(t *testing.T) (*devicetest.Fake, *remotefs.FS, *strings.Builder) {
	t.Helper()
	fake := devicetest.New()
	conn := transport.NewConn(fake, 2*time.Second)
	var log strings.Builder
	fs := remotefs.New(repl.NewSession(conn), func(msg string) { log.WriteString(msg) })
	return fake, fs, &log
}

func TestStatFile(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddFile("/main.py", []byte("x = 1\n"))

	st, err := fs.Stat("/main.py")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsFile)
	assert.False(t, st.IsDir)
	assert.Equal(t, int64(6), st.Size)
}

func TestStatDir(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddDir("/lib")

	st, err := fs.Stat("/lib")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsDir)
	assert.False(t, st.IsFile)
}

func TestStatAbsentIsNilNil(t *testing.T) {
	_, fs, _ := newFS(t)

	st, err := fs.Stat("/missing")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestListOrdering(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddDir("/app")
	fake.AddFile("/app/alpha.txt", []byte("a"))
	fake.AddDir("/app/beta")
	fake.AddFile("/app/omega.bin", []byte("oo"))
	fake.AddDir("/app/zeta")

	names, err := fs.List("/app")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta/", "zeta/", "alpha.txt", "omega.bin"}, names)
}

func TestListSizes(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddDir("/app")
	fake.AddFile("/app/data.bin", []byte("12345"))
	fake.AddDir("/app/sub")

	entries, err := fs.ListSizes("/app")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, remotefs.Entry{Name: "sub/"}, entries[0])
	assert.Equal(t, remotefs.Entry{Name: "data.bin", Size: 5}, entries[1])
}

func TestRemoveFile(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddFile("/old.py", nil)

	require.NoError(t, fs.Remove("/old.py"))
	assert.Nil(t, fake.Node("/old.py"))
}

func TestRemoveMissingFileFaults(t *testing.T) {
	_, fs, _ := newFS(t)

	err := fs.Remove("/missing")
	require.Error(t, err)
	var fault *repl.RemoteFault
	assert.ErrorAs(t, err, &fault)
}

func TestMkdirAndRemoveDir(t *testing.T) {
	fake, fs, _ := newFS(t)

	require.NoError(t, fs.Mkdir("/fresh"))
	require.NotNil(t, fake.Node("/fresh"))
	assert.True(t, fake.Node("/fresh").IsDir)

	require.NoError(t, fs.RemoveDir("/fresh"))
	assert.Nil(t, fake.Node("/fresh"))
}

func TestMakeDirsCreatesMissingAncestors(t *testing.T) {
	fake, fs, _ := newFS(t)

	require.NoError(t, fs.MakeDirs("/a/b/c"))
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		require.NotNil(t, fake.Node(p), "path %s", p)
		assert.True(t, fake.Node(p).IsDir, "path %s", p)
	}
}

func TestMakeDirsIdempotent(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddDir("/a/b")

	require.NoError(t, fs.MakeDirs("/a/b/c"))
	require.NoError(t, fs.MakeDirs("/a/b/c"))
	assert.True(t, fake.Node("/a/b/c").IsDir)
}

func TestMakeDirsFileAncestorConflicts(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddFile("/a/b", []byte("not a dir"))

	err := fs.MakeDirs("/a/b/c")
	require.Error(t, err)
	var conflict *remotefs.PathConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "/a/b", conflict.Path)
}

func TestMakeDirsRejectsRelativePath(t *testing.T) {
	_, fs, _ := newFS(t)

	err := fs.MakeDirs("a/b")
	var conflict *remotefs.PathConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRemoveTreeSingleFile(t *testing.T) {
	fake, fs, log := newFS(t)
	fake.AddFile("/stray.log", []byte("x"))

	require.NoError(t, fs.RemoveTree("/stray.log"))
	assert.Nil(t, fake.Node("/stray.log"))
	assert.Equal(t, "RM /stray.log\n", log.String())
}

func TestRemoveTreeRecursive(t *testing.T) {
	fake, fs, log := newFS(t)
	fake.AddFile("/app/main.py", []byte("m"))
	fake.AddFile("/app/lib/util.py", []byte("u"))
	fake.AddDir("/app/lib/empty")

	require.NoError(t, fs.RemoveTree("/app"))
	assert.Empty(t, fake.Paths())

	// Deletions are announced before they happen, children before parents.
	lines := strings.Split(strings.TrimSuffix(log.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"RMDIR /app/lib/empty",
		"RM /app/lib/util.py",
		"RMDIR /app/lib",
		"RM /app/main.py",
		"RMDIR /app",
	}, lines)
}

func TestRemoveTreeRootSparesRoot(t *testing.T) {
	fake, fs, _ := newFS(t)
	fake.AddFile("/boot.py", []byte("b"))
	fake.AddFile("/lib/dep.py", []byte("d"))

	require.NoError(t, fs.RemoveTree("/"))
	assert.Empty(t, fake.Paths())

	// The root itself survives: it is still listable afterwards.
	names, err := fs.List("/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRemoveTreeMissingPathConflicts(t *testing.T) {
	_, fs, _ := newFS(t)

	err := fs.RemoveTree("/missing")
	var conflict *remotefs.PathConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRemoveTreeRejectsRelativePath(t *testing.T) {
	_, fs, _ := newFS(t)

	err := fs.RemoveTree("app")
	var conflict *remotefs.PathConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/main.py", remotefs.Join("/", "main.py"))
	assert.Equal(t, "/app/main.py", remotefs.Join("/app", "main.py"))
}
