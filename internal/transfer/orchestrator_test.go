package transfer

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/alyx-go/internal/catalog"
	"github.com/cortexlab/alyx-go/internal/metrics"
	"github.com/cortexlab/alyx-go/internal/reconcile"
)

type fakeService struct {
	submitted []Descriptor
	err       error
	task      Task
}

func (f *fakeService) Submit(_ context.Context, d Descriptor) (Submission, error) {
	if f.err != nil {
		return Submission{}, f.err
	}

	f.submitted = append(f.submitted, d)

	return Submission{TaskID: "task-" + d.DestinationPath, Code: "Accepted", Message: "The transfer has been accepted"}, nil
}

func (f *fakeService) Task(_ context.Context, id string) (Task, error) {
	if f.err != nil {
		return Task{}, f.err
	}

	t := f.task
	t.TaskID = id

	return t, nil
}

type fakeCatalog struct {
	repos   map[string]catalog.DataRepository
	files   map[string]catalog.FileRecord
	lookups int
}

func (f *fakeCatalog) File(_ context.Context, id string) (catalog.FileRecord, error) {
	rec, ok := f.files[id]
	if !ok {
		return catalog.FileRecord{}, catalog.ErrNotFound
	}

	return rec, nil
}

func (f *fakeCatalog) DataRepository(_ context.Context, name string) (catalog.DataRepository, error) {
	f.lookups++

	repo, ok := f.repos[name]
	if !ok {
		return catalog.DataRepository{}, catalog.ErrNotFound
	}

	return repo, nil
}

type fakeRecorder struct {
	outcomes []Outcome
	runIDs   []string
	statuses map[string]string
}

func (f *fakeRecorder) Record(_ context.Context, runID string, o Outcome) error {
	f.outcomes = append(f.outcomes, o)
	f.runIDs = append(f.runIDs, runID)

	return nil
}

func (f *fakeRecorder) UpdateStatus(_ context.Context, taskID, status string) error {
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}

	f.statuses[taskID] = status

	return nil
}

type fakeReconciler struct {
	reqs []reconcile.TransferRequest
	err  error
}

func (f fakeReconciler) TransfersRequired(context.Context, string) iter.Seq2[reconcile.TransferRequest, error] {
	return func(yield func(reconcile.TransferRequest, error) bool) {
		for _, r := range f.reqs {
			if !yield(r, nil) {
				return
			}
		}

		if f.err != nil {
			yield(reconcile.TransferRequest{}, f.err)
		}
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		repos: map[string]catalog.DataRepository{
			"cortexlab": {Name: "cortexlab", GlobusEndpointID: "ep-src"},
			"flatiron":  {Name: "flatiron", GlobusEndpointID: "ep-dst", GlobusPath: "/cortexlab"},
			"half":      {Name: "half"},
			"nowhere":   {Name: "nowhere"},
		},
		files: map[string]catalog.FileRecord{
			"s1": {ID: "s1", URL: "http://alyx/files/s1", Dataset: "d1", DataRepository: "cortexlab", RelativePath: "m/a.npy", Exists: true},
			"m1": {ID: "m1", URL: "http://alyx/files/m1", Dataset: "d1", DataRepository: "flatiron", RelativePath: "m/a.npy", Exists: false},
			"m2": {ID: "m2", URL: "http://alyx/files/m2", Dataset: "d2", DataRepository: "flatiron", RelativePath: "m/b.npy", Exists: false},
		},
	}
}

func request(srcRepo, dstRepo, rel string) reconcile.TransferRequest {
	return reconcile.TransferRequest{
		Dataset:               "d1",
		SourceRepository:      srcRepo,
		DestinationRepository: dstRepo,
		SourcePath:            rel,
		DestinationPath:       rel,
		SourceFileID:          "s1",
		DestinationFileID:     "m1",
	}
}

func TestSubmit_DryRunNeverCallsService(t *testing.T) {
	svc := &fakeService{}
	rec := &fakeRecorder{}
	m := metrics.New()
	o := NewOrchestrator(testCatalog(), svc, Options{Recorder: rec, Metrics: m, RunID: "run-1"}, nil)

	out, err := o.Submit(context.Background(), request("cortexlab", "flatiron", "m/a.npy"), true)
	require.NoError(t, err)

	assert.Empty(t, svc.submitted)
	assert.True(t, out.DryRun)
	assert.Empty(t, out.TaskID)
	assert.Equal(t, "ep-src", out.Descriptor.SourceEndpoint)
	assert.Equal(t, "ep-dst", out.Descriptor.DestinationEndpoint)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "run-1", rec.runIDs[0])
	assert.InDelta(t, 1, testutil.ToFloat64(m.TransfersSubmitted.WithLabelValues("dry_run")), 0)
}

func TestSubmit_CallsServiceOnce(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	out, err := o.Submit(context.Background(), request("cortexlab", "flatiron", "m/a.npy"), false)
	require.NoError(t, err)
	require.Len(t, svc.submitted, 1)

	d := svc.submitted[0]
	assert.Equal(t, "m/a.npy", d.SourcePath)
	assert.Equal(t, "/cortexlab/m/a.npy", d.DestinationPath)
	assert.True(t, d.VerifyChecksum)
	assert.Equal(t, SyncLevelChecksum, d.SyncLevel)
	assert.Equal(t, "cortexlab m_a_npy to flatiron m_a_npy", d.Label)

	assert.Equal(t, "task-/cortexlab/m/a.npy", out.TaskID)
	assert.Equal(t, "Accepted", out.Code)
	assert.False(t, out.DryRun)
}

func TestSubmit_BothEndpointsMissing(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	_, err := o.Submit(context.Background(), request("half", "nowhere", "m/a.npy"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferEndpoint)

	var ee *EndpointError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "half", ee.SourceRepository)
	assert.Empty(t, svc.submitted)
}

func TestSubmit_OneEndpointMissingProceeds(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	out, err := o.Submit(context.Background(), request("cortexlab", "half", "m/a.npy"), false)
	require.NoError(t, err)
	require.Len(t, svc.submitted, 1)
	assert.Empty(t, out.Descriptor.DestinationEndpoint)
}

func TestSubmit_UnknownRepository(t *testing.T) {
	o := NewOrchestrator(testCatalog(), &fakeService{}, Options{}, nil)

	_, err := o.Submit(context.Background(), request("cortexlab", "ghost", "m/a.npy"), false)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSubmit_ServiceError(t *testing.T) {
	boom := errors.New("boom")
	rec := &fakeRecorder{}
	o := NewOrchestrator(testCatalog(), &fakeService{err: boom}, Options{Recorder: rec}, nil)

	_, err := o.Submit(context.Background(), request("cortexlab", "flatiron", "m/a.npy"), false)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rec.outcomes)
}

func TestSubmit_RepositoryCache(t *testing.T) {
	cat := testCatalog()
	m := metrics.New()
	o := NewOrchestrator(cat, &fakeService{}, Options{Metrics: m, CacheTTL: time.Hour}, nil)

	for range 3 {
		_, err := o.Submit(context.Background(), request("cortexlab", "flatiron", "m/a.npy"), true)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cat.lookups)
	assert.InDelta(t, 4, testutil.ToFloat64(m.EndpointCacheHits), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.EndpointCacheMisses), 0)
}

func TestTransferRequired_SubmitsEachInOrder(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	r := fakeReconciler{reqs: []reconcile.TransferRequest{
		request("cortexlab", "flatiron", "m/a.npy"),
		request("cortexlab", "flatiron", "m/b.npy"),
	}}

	outs, err := o.TransferRequired(context.Background(), r, "", false)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	require.Len(t, svc.submitted, 2)
	assert.Equal(t, "m/a.npy", svc.submitted[0].SourcePath)
	assert.Equal(t, "m/b.npy", svc.submitted[1].SourcePath)
}

func TestTransferRequired_StopsOnError(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	r := fakeReconciler{
		reqs: []reconcile.TransferRequest{request("cortexlab", "flatiron", "m/a.npy")},
		err:  &reconcile.IntegrityError{Dataset: "d1", Reason: "source copy does not exist"},
	}

	outs, err := o.TransferRequired(context.Background(), r, "", false)
	assert.ErrorIs(t, err, reconcile.ErrDataIntegrity)
	assert.Len(t, outs, 1)
	assert.Len(t, svc.submitted, 1)
}

func TestTransferRequired_Canceled(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := fakeReconciler{reqs: []reconcile.TransferRequest{request("cortexlab", "flatiron", "m/a.npy")}}

	outs, err := o.TransferRequired(ctx, r, "", false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outs)
	assert.Empty(t, svc.submitted)
}

func TestTransferRequired_DryRun(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	r := fakeReconciler{reqs: []reconcile.TransferRequest{request("cortexlab", "flatiron", "m/a.npy")}}

	outs, err := o.TransferRequired(context.Background(), r, "", true)
	require.NoError(t, err)
	assert.Len(t, outs, 1)
	assert.Empty(t, svc.submitted)
}

func TestTransferPair(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	out, err := o.TransferPair(context.Background(), "s1", "m1", false)
	require.NoError(t, err)
	assert.Equal(t, "s1", out.Request.SourceFileID)
	assert.Equal(t, "m1", out.Request.DestinationFileID)
	assert.Len(t, svc.submitted, 1)
}

func TestTransferPair_IntegrityViolations(t *testing.T) {
	svc := &fakeService{}
	o := NewOrchestrator(testCatalog(), svc, Options{}, nil)

	// Reversed pair: the "source" does not exist.
	_, err := o.TransferPair(context.Background(), "m1", "s1", false)
	assert.ErrorIs(t, err, reconcile.ErrDataIntegrity)

	// Different datasets.
	_, err = o.TransferPair(context.Background(), "s1", "m2", false)
	assert.ErrorIs(t, err, reconcile.ErrDataIntegrity)

	_, err = o.TransferPair(context.Background(), "s1", "ghost", false)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	assert.Empty(t, svc.submitted)
}

func TestTaskStatus(t *testing.T) {
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{task: Task{Status: "SUCCEEDED", Files: 1, BytesTransferred: 2048, CompletionTime: done}}
	rec := &fakeRecorder{}
	o := NewOrchestrator(testCatalog(), svc, Options{Recorder: rec}, nil)

	task, err := o.TaskStatus(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.TaskID)
	assert.Equal(t, "SUCCEEDED", task.Status)
	assert.Equal(t, int64(2048), task.BytesTransferred)
	assert.Equal(t, "SUCCEEDED", rec.statuses["t-1"])
}

func TestTaskStatus_Error(t *testing.T) {
	boom := errors.New("boom")
	o := NewOrchestrator(testCatalog(), &fakeService{err: boom}, Options{}, nil)

	_, err := o.TaskStatus(context.Background(), "t-1")
	assert.ErrorIs(t, err, boom)
}
