//go:build darwin || freebsd || linux

package binder_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/sftphook/internal/binder"
	"github.com/HerbHall/sftphook/pkg/plugin"
)

// fixtureSource exports one callback of every argument shape the native
// wrappers handle. Return values echo the arguments so each one can be
// checked from Go.
const fixtureSource = `
#include <stdint.h>
#include <string.h>

struct sftp_cbk_attrs {
	uint32_t flags, uid, gid, perm;
	uint64_t size;
	uint32_t atime, mtime;
};

const char *sftp_cf_api_version(void) { return "v1.0.0"; }

int sftp_cf_open_file(uint32_t id, const char *path, uint32_t access,
    uint32_t flags, struct sftp_cbk_attrs *attrs, int32_t *fd)
{
	if (strcmp(path, "/srv/a") != 0 || attrs->perm != 0644)
		return 1;
	attrs->uid = 1000;
	attrs->size = (uint64_t)1 << 40;
	*fd = (int32_t)(100 + id + access + flags);
	return 0;
}

int sftp_cf_read(uint32_t id, const char *handle, uint64_t off,
    uint32_t len, uint8_t *data, int32_t *dlen)
{
	const char *msg = "hello";
	uint32_t n = 5;
	if (len < n)
		n = len;
	memcpy(data, msg, n);
	*dlen = (int32_t)n;
	return strcmp(handle, "h1") == 0 && off == ((uint64_t)1 << 33) ? 0 : 1;
}

int sftp_cf_write(uint32_t id, const char *handle, uint64_t off,
    const uint8_t *data, uint32_t len)
{
	if (len == 0 || data[len - 1] != '!')
		return -1;
	return (int)(off + len);
}

int sftp_cf_remove(uint32_t id, const char *path)
{
	return strcmp(path, "/srv/gone") == 0 ? (int)id : -1;
}

int sftp_cf_fstat(uint32_t id, const char *handle, uint32_t flags)
{
	return (int)flags;
}

int sftp_cf_link(uint32_t id, const char *newlink, const char *curlink,
    int32_t symlink)
{
	if (strcmp(newlink, "/n") != 0 || strcmp(curlink, "/c") != 0)
		return -1;
	return symlink ? 10 : 20;
}

int sftp_cf_lock(uint32_t id, const char *handle, uint64_t off,
    uint64_t len, uint32_t mask)
{
	return (int)((off >> 32) + (len >> 32) + mask);
}

int sftp_cf_realpath(uint32_t id, const char *origpath, uint8_t control,
    const char *path)
{
	return strcmp(origpath, "/o") == 0 && strcmp(path, "/p") == 0 ? control : -1;
}

int sftp_cf_status(uint32_t id, uint32_t code, const char *msg,
    const char *lang)
{
	return strcmp(msg, "fine") == 0 && strcmp(lang, "en") == 0 ? (int)code : -1;
}

int sftp_cf_data(uint32_t id, const uint8_t *data, uint32_t len)
{
	int sum = 0;
	if (data == NULL)
		return -2;
	for (uint32_t i = 0; i < len; i++)
		sum += data[i];
	return sum;
}

int sftp_cf_name(uint32_t id, uint32_t count, const char *name, int32_t eof)
{
	return eof ? (int)count : 0;
}

int sftp_cf_attrs(uint32_t id, uint32_t flags, uint32_t perm)
{
	return (int)(flags ^ perm);
}
`

func buildFixture(t *testing.T) string {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("cc not available")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "fixture.c")
	require.NoError(t, os.WriteFile(src, []byte(fixtureSource), 0o600))
	out := filepath.Join(dir, binder.NativeOpener{}.Artifact("fixture"))
	cmd := exec.Command(cc, "-shared", "-fPIC", "-o", out, src)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("cc: %v\n%s", err, b)
	}
	return dir
}

func TestNativeBindsEveryShape(t *testing.T) {
	dir := buildFixture(t)
	loader := binder.NewLoader(binder.NativeOpener{}, []string{dir}, nil)

	bound, err := loader.Load("fixture")
	require.NoError(t, err)
	lib, cb := bound.Library, bound.Callbacks

	v, ok := lib.APIVersion()
	assert.True(t, ok)
	assert.Equal(t, "v1.0.0", v)
	assert.Equal(t, []plugin.Op{
		plugin.OpOpenFile, plugin.OpRead, plugin.OpWrite, plugin.OpRemove,
		plugin.OpFstat, plugin.OpLink, plugin.OpLock, plugin.OpRealpath,
		plugin.OpStatus, plugin.OpData, plugin.OpName, plugin.OpAttrs,
	}, cb.Ops())

	attrs := &plugin.Attrs{Perm: 0o644}
	var fd int32
	assert.Equal(t, plugin.ResultSuccess, cb.OpenFile(5, "/srv/a", 1, 2, attrs, &fd))
	assert.Equal(t, int32(108), fd)
	assert.Equal(t, uint32(1000), attrs.UID)
	assert.Equal(t, uint64(1)<<40, attrs.Size)

	data := make([]byte, 16)
	var dlen int32
	assert.Equal(t, plugin.ResultSuccess, cb.Read(1, "h1", 1<<33, uint32(len(data)), data, &dlen))
	assert.Equal(t, "hello", string(data[:dlen]))

	short := make([]byte, 3)
	cb.Read(1, "h1", 1<<33, 32, short, &dlen)
	assert.Equal(t, int32(3), dlen, "length is capped to the buffer")

	assert.Equal(t, plugin.Result(12), cb.Write(1, "h1", 9, []byte("ab!")))
	assert.Equal(t, plugin.Result(-1), cb.Write(1, "h1", 9, nil))
	assert.Equal(t, plugin.Result(77), cb.Remove(77, "/srv/gone"))
	assert.Equal(t, plugin.Result(0x1f), cb.Fstat(1, "h1", 0x1f))

	assert.Equal(t, plugin.Result(10), cb.Link(1, "/n", "/c", true))
	assert.Equal(t, plugin.Result(20), cb.Link(1, "/n", "/c", false))

	assert.Equal(t, plugin.Result(1+2+4), cb.Lock(1, "h1", 1<<32, 2<<32, 4))
	assert.Equal(t, plugin.Result(2), cb.Realpath(1, "/o", 2, "/p"))
	assert.Equal(t, plugin.Result(4), cb.Status(1, 4, "fine", "en"))

	assert.Equal(t, plugin.Result('a'+'b'), cb.Data(1, []byte("ab")))
	assert.Equal(t, plugin.Result(-2), cb.Data(1, nil), "empty data is passed as NULL")
	assert.Equal(t, plugin.Result(9), cb.Name(1, 9, "x", true))
	assert.Equal(t, plugin.Result(0), cb.Name(1, 9, "x", false))
	assert.Equal(t, plugin.Result(0o755^0x4), cb.Attrs(1, 0x4, 0o755))

	require.NoError(t, lib.Close())
	assert.ErrorContains(t, lib.Close(), "already closed")
	_, ok = lib.Symbol(plugin.OpRemove)
	assert.False(t, ok, "symbols are gone after Close")
}

func TestNativeOpenMissing(t *testing.T) {
	_, err := binder.NativeOpener{}.Open(filepath.Join(t.TempDir(), "libnone.so"))
	assert.Error(t, err)
}
