package audit

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flavorEvent struct {
	Name string `json:"name"`
}

func TestJournal_AppendAndRead(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, j.Append(EntryCreated, "task-1", "42", flavorEvent{Name: "small"}, nil))
	require.NoError(t, j.Append(EntryConflict, "task-1", "", flavorEvent{Name: "large"}, nil))
	require.NoError(t, j.Append(EntryDeleteFailed, "task-1", "42", flavorEvent{Name: "small"}, errors.New("boom")))
	require.NoError(t, j.Close())

	files, err := journalFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	reader, err := NewReader(files[0])
	require.NoError(t, err)
	defer reader.Close()

	expected := []EntryType{EntryCreated, EntryConflict, EntryDeleteFailed}
	for i, want := range expected {
		entry, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, want, entry.Type)
		assert.Equal(t, int64(i+1), entry.Sequence)
		assert.Equal(t, "task-1", entry.OwnerID)
	}

	_, err = reader.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestJournal_ErrorRecorded(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryDeleteFailed, "t", "1", nil, errors.New("forbidden")))
	require.NoError(t, j.Close())

	var got []*Entry
	require.NoError(t, Replay(dir, time.Time{}, func(e *Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "forbidden", got[0].Error)
}

func TestJournal_SequenceContinuesAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryCreated, "t", "1", nil, nil))
	require.NoError(t, j.Append(EntryCreated, "t", "2", nil, nil))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryDeleted, "t", "1", nil, nil))
	require.NoError(t, j.Close())

	var last int64
	require.NoError(t, Replay(dir, time.Time{}, func(e *Entry) error {
		last = e.Sequence
		return nil
	}))
	assert.Equal(t, int64(3), last)
}

func TestReplay_Since(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryCreated, "t", "1", nil, nil))
	require.NoError(t, j.Close())

	count := 0
	require.NoError(t, Replay(dir, time.Now().Add(time.Hour), func(*Entry) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}

func TestReplay_HandlerError(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryCreated, "t", "1", nil, nil))
	require.NoError(t, j.Close())

	stop := errors.New("stop")
	err = Replay(dir, time.Time{}, func(*Entry) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "benchctx-20200101-000000.wal")
	newFile := filepath.Join(dir, "benchctx-20990101-000000.wal")
	require.NoError(t, os.WriteFile(oldFile, nil, 0644))
	require.NoError(t, os.WriteFile(newFile, nil, 0644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	removed, err := Prune(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	assert.NoError(t, err)
}
