package varstore

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
)

func TestFileStore_ReadMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "output.json"))

	m, err := s.Read(context.Background())
	assert.Nil(t, m)
	assert.ErrorIs(t, err, errors.ErrDocumentMissing)
}

func TestFileStore_ReadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	_, err := NewFileStore(path).Read(context.Background())
	assert.ErrorIs(t, err, errors.ErrDocumentMissing)
}

func TestFileStore_ReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"%QX0.0":`), 0o644))

	_, err := NewFileStore(path).Read(context.Background())
	assert.ErrorIs(t, err, errors.ErrMalformedDocument)
	assert.True(t, errors.IsInvalid(err))
}

func TestFileStore_WriteThenRead(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "input.json"))
	ctx := context.Background()

	want := varmap.Map{"%IX0.1": varmap.Bool(false), "%IX0.0": varmap.Bool(true)}
	require.NoError(t, s.Write(ctx, want))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, `{"%IX0.0":true,"%IX0.1":false}`, string(data))

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStore_Prepare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "output.json")
	s := NewFileStore(path)

	require.NoError(t, s.Prepare(true))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	require.NoError(t, s.Write(context.Background(), varmap.Map{"%QX0.0": varmap.Bool(true)}))
	require.NoError(t, s.Prepare(true), "existing document must be kept")
	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, varmap.Bool(true), got["%QX0.0"])
}

func TestFileStore_PrepareWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "input.json")
	s := NewFileStore(path)

	require.NoError(t, s.Prepare(false))
	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, errors.ErrDocumentMissing)

	require.NoError(t, s.Write(ctx, varmap.Map{"%IX0.0": varmap.Bool(true)}))
	assert.Equal(t, `{"%IX0.0":true}`, string(s.Raw()))

	s.SetRaw([]byte(`[]`))
	_, err = s.Read(ctx)
	assert.ErrorIs(t, err, errors.ErrMalformedDocument)

	s.FailWrites(stderrors.New("disk full"))
	err = s.Write(ctx, varmap.Map{})
	assert.ErrorIs(t, err, errors.ErrWriteFailure)

	s.FailReads(errors.ErrConnectionLost)
	_, err = s.Read(ctx)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)

	assert.Equal(t, 1, s.Writes())
	assert.Equal(t, 3, s.Reads())
}

type fakeBucket struct {
	puts map[string][]byte
	err  error
	rev  uint64
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.rev++
	b.puts[key] = value
	return b.rev, nil
}

func TestKVMirror(t *testing.T) {
	bucket := &fakeBucket{}
	m := NewKVMirror(bucket, "")
	assert.Equal(t, DefaultMirrorKey, m.Key())

	require.NoError(t, m.Write(context.Background(), varmap.Map{"%QX0.0": varmap.Bool(true)}))
	assert.Equal(t, `{"%QX0.0":true}`, string(bucket.puts[DefaultMirrorKey]))
	assert.Equal(t, uint64(1), m.Revision())

	bucket.err = errors.ErrConnectionLost
	err := m.Write(context.Background(), varmap.Map{})
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, uint64(1), m.Revision())
}
