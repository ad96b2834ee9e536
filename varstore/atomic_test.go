package varstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
)

func TestWriteAtomic_ReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"%IX0.0":true}`)))
	require.NoError(t, WriteAtomic(path, []byte(`{"%IX0.0":false}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"%IX0.0":false}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.json")

	for i := 0; i < 10; i++ {
		require.NoError(t, WriteAtomic(path, []byte(fmt.Sprintf(`{"%%QW0":%d}`, i))))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "output.json", entries[0].Name())
}

func TestWriteAtomic_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "input.json")

	err := WriteAtomic(path, []byte(`{}`))
	assert.ErrorIs(t, err, errors.ErrWriteFailure)
	assert.True(t, errors.IsTransient(err))
}

func TestWriteAtomic_FailedRenameKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	// A directory cannot be replaced by a file rename.
	target := filepath.Join(dir, "input.json")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o644))

	err := WriteAtomic(target, []byte(`{}`))
	assert.ErrorIs(t, err, errors.ErrWriteFailure)

	info, statErr := os.Stat(target)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestPendingWrite_DiscardKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, WriteAtomic(path, []byte(`{"%IX0.0":true}`)))

	pw, err := NewPendingWrite(path, []byte(`{"%IX0.0":false}`))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"%IX0.0":true}`, string(data), "staged write must not be visible")

	pw.Discard()
	_, err = os.Stat(pw.TempPath())
	assert.True(t, os.IsNotExist(err))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"%IX0.0":true}`, string(data))
}

func TestPendingWrite_DiscardAfterCommitIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")

	pw, err := NewPendingWrite(path, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, pw.Commit())
	pw.Discard()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
	assert.ErrorIs(t, pw.Commit(), errors.ErrWriteFailure)
}

// A reader polling the file while a writer alternates between two documents
// must only ever see one of the two complete documents.
func TestWriteAtomic_ConcurrentReaderNeverSeesPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")

	docA := make(varmap.Map)
	docB := make(varmap.Map)
	for i := 0; i < 500; i++ {
		k := varmap.Key(fmt.Sprintf("%%QX%d.%d", i/8, i%8))
		docA[k] = varmap.Bool(true)
		docB[k] = varmap.Bool(false)
	}
	encA, encB := varmap.Encode(docA), varmap.Encode(docB)
	require.NoError(t, WriteAtomic(path, encA))

	var (
		stop   atomic.Bool
		reads  atomic.Int64
		failed atomic.Value
		wg     sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			data, err := os.ReadFile(path)
			if err != nil {
				failed.Store(fmt.Sprintf("read: %v", err))
				return
			}
			m, err := varmap.Decode(data)
			if err != nil {
				failed.Store(fmt.Sprintf("decode: %v", err))
				return
			}
			if !varmap.Equal(m, docA) && !varmap.Equal(m, docB) {
				failed.Store("document is neither A nor B")
				return
			}
			reads.Add(1)
		}
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		data := encA
		if i%2 == 1 {
			data = encB
		}
		require.NoError(t, WriteAtomic(path, data))
	}
	stop.Store(true)
	wg.Wait()

	if msg := failed.Load(); msg != nil {
		t.Fatalf("reader observed a torn document: %v", msg)
	}
	assert.Positive(t, reads.Load())
}
