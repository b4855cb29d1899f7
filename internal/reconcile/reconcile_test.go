package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/alyx-go/internal/catalog"
)

// fakeFiles serves ListFiles from an in-memory record set and logs queries.
type fakeFiles struct {
	records []catalog.FileRecord
	queries []catalog.FileQuery
	err     error
}

func (f *fakeFiles) ListFiles(_ context.Context, q catalog.FileQuery) ([]catalog.FileRecord, error) {
	f.queries = append(f.queries, q)

	if f.err != nil {
		return nil, f.err
	}

	var out []catalog.FileRecord

	for _, r := range f.records {
		if q.Exists != nil && r.Exists != *q.Exists {
			continue
		}

		if q.Dataset != "" && r.DatasetID() != q.Dataset {
			continue
		}

		out = append(out, r)
	}

	return out, nil
}

func record(id, dataset, repo string, exists bool) catalog.FileRecord {
	return catalog.FileRecord{
		ID:             id,
		URL:            "http://alyx/files/" + id,
		Dataset:        "http://alyx/datasets/" + dataset,
		DataRepository: repo,
		RelativePath:   "subject/2026-01-01/001/" + id + ".npy",
		Exists:         exists,
	}
}

func collect(t *testing.T, e *Engine, dataset string) ([]TransferRequest, error) {
	t.Helper()

	var out []TransferRequest

	for req, err := range e.TransfersRequired(context.Background(), dataset) {
		if err != nil {
			return out, err
		}

		out = append(out, req)
	}

	return out, nil
}

func TestTransfersRequired_SkipsDatasetWithoutSource(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{
		record("d1-src", "d1", "cortexlab", true),
		record("d1-a", "d1", "flatiron", false),
		record("d1-b", "d1", "mainenlab", false),
		record("d2-a", "d2", "flatiron", false),
	}}

	reqs, err := collect(t, NewEngine(files, Options{}, nil), "")
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	for _, req := range reqs {
		assert.Equal(t, "d1", req.Dataset)
		assert.Equal(t, "d1-src", req.SourceFileID)
		assert.Equal(t, "cortexlab", req.SourceRepository)
		assert.True(t, req.Source.Exists)
		assert.False(t, req.Destination.Exists)
	}

	assert.ElementsMatch(t, []string{"d1-a", "d1-b"}, []string{reqs[0].DestinationFileID, reqs[1].DestinationFileID})
	assert.Equal(t, "flatiron", reqs[0].DestinationRepository)
	assert.Equal(t, "subject/2026-01-01/001/d1-a.npy", reqs[0].DestinationPath)
}

func TestTransfersRequired_QueriesPerGroup(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{
		record("d2-a", "d2", "flatiron", false),
		record("d1-a", "d1", "flatiron", false),
		record("d2-b", "d2", "flatiron", false),
	}}

	_, err := collect(t, NewEngine(files, Options{}, nil), "")
	require.NoError(t, err)

	require.Len(t, files.queries, 3)
	assert.False(t, *files.queries[0].Exists)
	assert.Empty(t, files.queries[0].Dataset)
	assert.Equal(t, "d1", files.queries[1].Dataset)
	assert.True(t, *files.queries[1].Exists)
	assert.Equal(t, "d2", files.queries[2].Dataset)
}

func TestTransfersRequired_DatasetFilter(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{
		record("d1-src", "d1", "cortexlab", true),
		record("d1-a", "d1", "flatiron", false),
		record("d3-src", "d3", "cortexlab", true),
		record("d3-a", "d3", "flatiron", false),
	}}

	reqs, err := collect(t, NewEngine(files, Options{}, nil), "d3")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "d3-a", reqs[0].DestinationFileID)
	assert.Equal(t, "d3", files.queries[0].Dataset)
}

func TestTransfersRequired_FirstExistingIsSource(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{
		record("src-1", "d1", "cortexlab", true),
		record("src-2", "d1", "flatiron", true),
		record("dst", "d1", "mainenlab", false),
	}}

	reqs, err := collect(t, NewEngine(files, Options{}, nil), "")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "src-1", reqs[0].SourceFileID)
}

func TestTransfersRequired_Restartable(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{
		record("d1-src", "d1", "cortexlab", true),
		record("d1-a", "d1", "flatiron", false),
	}}

	e := NewEngine(files, Options{}, nil)
	seq := e.TransfersRequired(context.Background(), "")

	count := func() int {
		n := 0

		for _, err := range seq {
			require.NoError(t, err)

			n++
		}

		return n
	}

	assert.Equal(t, 1, count())

	// New catalog state is visible on the next pass.
	files.records = append(files.records, record("d1-b", "d1", "mainenlab", false))
	assert.Equal(t, 2, count())
	assert.Len(t, files.queries, 4)
}

func TestTransfersRequired_Window(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{record("src", "d0", "cortexlab", true)}}
	for i := range 15 {
		files.records = append(files.records, record(fmt.Sprintf("m%02d", i), "d0", "flatiron", false))
	}

	reqs, err := collect(t, NewEngine(files, Options{Window: DefaultWindow}, nil), "")
	require.NoError(t, err)
	require.Len(t, reqs, DefaultWindow)
	assert.Equal(t, "m05", reqs[0].DestinationFileID)
	assert.Equal(t, "m14", reqs[DefaultWindow-1].DestinationFileID)

	all, err := collect(t, NewEngine(files, Options{}, nil), "")
	require.NoError(t, err)
	assert.Len(t, all, 15)
}

func TestTransfersRequired_IntegrityViolation(t *testing.T) {
	// A catalog that ignores the exists filter hands back a missing copy as
	// the source.
	files := &brokenFiles{records: []catalog.FileRecord{
		record("d1-a", "d1", "flatiron", false),
	}}

	_, err := collect(t, NewEngine(files, Options{}, nil), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataIntegrity)

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "d1", ie.Dataset)
	assert.Contains(t, ie.Reason, "source copy does not exist")
}

func TestTransfersRequired_ListError(t *testing.T) {
	boom := errors.New("boom")
	files := &fakeFiles{err: boom}

	reqs, err := collect(t, NewEngine(files, Options{}, nil), "")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, reqs)
}

func TestTransfersRequired_EarlyBreak(t *testing.T) {
	files := &fakeFiles{records: []catalog.FileRecord{
		record("d1-src", "d1", "cortexlab", true),
		record("d1-a", "d1", "flatiron", false),
		record("d2-src", "d2", "cortexlab", true),
		record("d2-a", "d2", "flatiron", false),
	}}

	for _, err := range NewEngine(files, Options{}, nil).TransfersRequired(context.Background(), "") {
		require.NoError(t, err)
		break
	}

	// Only the missing listing and the first group's lookup ran.
	assert.Len(t, files.queries, 2)
}

// brokenFiles returns every record for every query.
type brokenFiles struct {
	records []catalog.FileRecord
}

func (b *brokenFiles) ListFiles(context.Context, catalog.FileQuery) ([]catalog.FileRecord, error) {
	return b.records, nil
}

func TestNewTransferRequest_Contract(t *testing.T) {
	src := record("s", "d1", "cortexlab", true)
	dst := record("m", "d1", "flatiron", false)

	_, err := NewTransferRequest(src, dst)
	require.NoError(t, err)

	_, err = NewTransferRequest(src, record("m", "d1", "flatiron", true))
	assert.ErrorIs(t, err, ErrDataIntegrity)

	_, err = NewTransferRequest(src, record("m", "d9", "flatiron", false))
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestGroupByDataset_MatchesPartition(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := range 50 {
		n := rng.IntN(40)
		records := make([]catalog.FileRecord, n)

		for i := range records {
			records[i] = record(fmt.Sprintf("f%d", i), fmt.Sprintf("d%d", rng.IntN(6)), "r", false)
		}

		want := map[string][]string{}
		for _, r := range records {
			want[r.Dataset] = append(want[r.Dataset], r.ID)
		}

		got := map[string][]string{}

		for _, g := range GroupByDataset(records) {
			key := g[0].Dataset
			_, dup := got[key]
			require.False(t, dup, "trial %d: dataset %s split across groups", trial, key)

			for _, r := range g {
				require.Equal(t, key, r.Dataset)
				got[key] = append(got[key], r.ID)
			}
		}

		// Stable sort keeps the original order within a dataset.
		assert.Equal(t, want, got, "trial %d", trial)
	}
}

func TestGroupByDataset_Empty(t *testing.T) {
	assert.Empty(t, GroupByDataset(nil))
}
