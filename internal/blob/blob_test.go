package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutOpen(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "uploads/t1/settle.csv", strings.NewReader("a,b\n1,2\n")))

	rc, err := s.Open(ctx, "uploads/t1/settle.csv")
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 64)
	n, _ := rc.Read(buf)
	assert.Equal(t, "a,b\n1,2\n", string(buf[:n]))
}

func TestLocalStoreMissing(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Open(context.Background(), "nope.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = s.Open(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLocalStoreStaysInRoot(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root)
	p, err := s.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), p)
}

func TestStagedName(t *testing.T) {
	assert.Equal(t, "settlement-2025-01.xlsx", StagedName("Settlement 2025-01.XLSX"))
	assert.Equal(t, "file.csv", StagedName("!!!.csv"))
}

func TestStage(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k/orders.csv", strings.NewReader("x")))

	dir := t.TempDir()
	p, err := Stage(ctx, s, dir, "k/orders.csv", "Orders Export.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "orders-export.csv"), p)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "x", string(raw))
}
