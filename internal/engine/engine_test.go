package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/domain/model"
)

type memStore struct {
	core.ArtifactStore

	saved map[string][]byte
	err   error
}

func newMemStore() *memStore {
	return &memStore{saved: map[string][]byte{}}
}

func (s *memStore) Save(_ context.Context, dir, name string, content io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	path := dir + "/" + name
	s.saved[path] = data
	return path, nil
}

type finishRecorder struct {
	core.TestRunRepository

	finished []*model.FinishTestRunRequest
	err      error
}

func (f *finishRecorder) Finish(_ context.Context, req *model.FinishTestRunRequest) error {
	f.finished = append(f.finished, req)
	return f.err
}

func TestCompleterPersistsArtifactsThenFinishes(t *testing.T) {
	store := newMemStore()
	runs := &finishRecorder{}
	c := NewCompleter(runs, store, quietLogger())

	res := &Result{
		Status:  model.RunStatusPassed,
		Summary: json.RawMessage(`{"total":1,"failed":0}`),
		Details: []model.TestRunResult{{RunID: 12, Name: "health", Status: model.RunStatusPassed}},
		Raw:     []byte(`{"probes":[]}`),
	}
	require.NoError(t, c.Complete(context.Background(), 12, res, nil))

	require.Len(t, runs.finished, 1)
	req := runs.finished[0]
	assert.Equal(t, int64(12), req.RunID)
	assert.Equal(t, model.RunStatusPassed, req.Status)
	require.NotNil(t, req.RawResultPath)
	require.NotNil(t, req.SummaryArtifactPath)

	// The recorded paths point at stored content, so a readiness check that
	// sees this row also finds the artifacts.
	assert.True(t, bytes.Equal(store.saved[*req.RawResultPath], res.Raw))
	assert.JSONEq(t, `{"total":1,"failed":0}`, string(store.saved[*req.SummaryArtifactPath]))
}

func TestCompleterEngineErrorMarksRunFailed(t *testing.T) {
	store := newMemStore()
	runs := &finishRecorder{}
	c := NewCompleter(runs, store, quietLogger())

	require.NoError(t, c.Complete(context.Background(), 12, nil, errors.New("newman: command not found")))

	require.Len(t, runs.finished, 1)
	req := runs.finished[0]
	assert.Equal(t, model.RunStatusFailed, req.Status)
	require.NotNil(t, req.ErrorMessage)
	assert.Contains(t, *req.ErrorMessage, "command not found")
	assert.Empty(t, store.saved)
}

func TestCompleterStoreFailurePropagates(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk full")
	runs := &finishRecorder{}
	c := NewCompleter(runs, store, quietLogger())

	err := c.Complete(context.Background(), 12, &Result{
		Status:  model.RunStatusPassed,
		Summary: json.RawMessage(`{"total":1}`),
		Raw:     []byte(`{}`),
	}, nil)

	require.Error(t, err)
	assert.Empty(t, runs.finished)
}
