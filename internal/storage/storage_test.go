package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "s1/products.csv", Key("s1", "products.csv"))
	assert.Equal(t, "s1/products.csv", Key("s1", `C:\Users\me\products.csv`))
	assert.Equal(t, "s1/passwd", Key("s1", "../../etc/passwd"))
	assert.Equal(t, "s1/upload", Key("s1", ""))
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	content := "name,sku\nLamp,LMP-1\n"
	obj, err := store.Save(ctx, Key("s1", "lamps.csv"), strings.NewReader(content))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), obj.SHA256)
	assert.Equal(t, int64(len(content)), obj.Size)

	rc, err := store.Open(ctx, obj.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	p, cleanup, err := Localize(ctx, store, obj.Key, t.TempDir())
	require.NoError(t, err)
	cleanup()
	_, err = os.Stat(p)
	assert.NoError(t, err, "local artifacts are used in place")

	require.NoError(t, store.Delete(ctx, obj.Key))
	require.NoError(t, store.Delete(ctx, obj.Key))
	_, err = store.Open(ctx, obj.Key)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Dir(p))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "../outside.csv", strings.NewReader("x"))
	assert.Error(t, err)
}

type remoteOnly struct {
	*LocalStore
}

func TestLocalize_DownloadsRemoteArtifacts(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	remote := remoteOnly{local}

	_, err = remote.Save(ctx, "s2/data.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)

	p, cleanup, err := Localize(ctx, remote, "s2/data.csv", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".csv", filepath.Ext(p))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	cleanup()
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	_, _, err = Localize(ctx, remote, "s2/missing.csv", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}
