// Package transfer turns reconciled transfer requests into transfer-service
// tasks. It resolves each repository's transfer endpoint through the
// catalog, builds the task descriptor and either submits it or, in dry-run
// mode, only logs what would be submitted.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cortexlab/alyx-go/internal/catalog"
	"github.com/cortexlab/alyx-go/internal/metrics"
	"github.com/cortexlab/alyx-go/internal/reconcile"
)

// Endpoint cache defaults.
const (
	DefaultCacheSize = 64
	DefaultCacheTTL  = 5 * time.Minute
)

// SyncLevelChecksum only copies files whose checksums differ.
const SyncLevelChecksum = "checksum"

// ErrTransferEndpoint means neither repository of a request has a transfer
// endpoint, so the transfer service cannot be addressed at all.
var ErrTransferEndpoint = errors.New("transfer: no transfer endpoint")

// EndpointError names the repositories that lack endpoints.
type EndpointError struct {
	SourceRepository      string
	DestinationRepository string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("transfer: repositories %s and %s have no transfer endpoint",
		e.SourceRepository, e.DestinationRepository)
}

func (e *EndpointError) Unwrap() error {
	return ErrTransferEndpoint
}

// Descriptor is what the transfer service receives for one file.
type Descriptor struct {
	SourceEndpoint      string
	DestinationEndpoint string
	SourcePath          string
	DestinationPath     string
	Label               string
	VerifyChecksum      bool
	SyncLevel           string
}

// Submission is the transfer service's answer to a submit.
type Submission struct {
	TaskID  string
	Code    string
	Message string
}

// Task is the transfer service's view of a submitted task.
type Task struct {
	TaskID              string    `json:"task_id"`
	Status              string    `json:"status"`
	Label               string    `json:"label"`
	SourceEndpoint      string    `json:"source_endpoint"`
	DestinationEndpoint string    `json:"destination_endpoint"`
	RequestTime         time.Time `json:"request_time"`
	CompletionTime      time.Time `json:"completion_time"`
	Files               int       `json:"files"`
	BytesTransferred    int64     `json:"bytes_transferred"`
}

// Service is the external transfer service.
type Service interface {
	Submit(ctx context.Context, d Descriptor) (Submission, error)
	Task(ctx context.Context, taskID string) (Task, error)
}

// Catalog is the slice of the catalog client the orchestrator needs.
type Catalog interface {
	File(ctx context.Context, id string) (catalog.FileRecord, error)
	DataRepository(ctx context.Context, name string) (catalog.DataRepository, error)
}

// Recorder keeps a history of outcomes. The ledger is the real implementation.
type Recorder interface {
	Record(ctx context.Context, runID string, o Outcome) error
	UpdateStatus(ctx context.Context, taskID, status string) error
}

// Reconciler yields the transfers a dataset (or the whole catalog) needs.
type Reconciler interface {
	TransfersRequired(ctx context.Context, dataset string) iter.Seq2[reconcile.TransferRequest, error]
}

// Outcome is the result of handling one request.
type Outcome struct {
	Request    reconcile.TransferRequest
	Descriptor Descriptor
	DryRun     bool
	TaskID     string
	Code       string
	Message    string
}

// Options tunes an Orchestrator. Zero values select the defaults.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	RunID     string
	Recorder  Recorder
	Metrics   *metrics.Metrics
}

// Orchestrator submits transfer requests one at a time.
type Orchestrator struct {
	catalog  Catalog
	service  Service
	recorder Recorder
	metrics  *metrics.Metrics
	runID    string
	repos    *expirable.LRU[string, catalog.DataRepository]
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cat Catalog, svc Service, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Orchestrator{
		catalog:  cat,
		service:  svc,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		runID:    opts.RunID,
		repos:    expirable.NewLRU[string, catalog.DataRepository](size, nil, ttl),
		logger:   logger,
	}
}

// Submit resolves both endpoints, builds the descriptor and submits it,
// unless dryRun is set, in which case the transfer service is not contacted.
// It fails with ErrTransferEndpoint only when both endpoints are missing.
func (o *Orchestrator) Submit(ctx context.Context, req reconcile.TransferRequest, dryRun bool) (Outcome, error) {
	src, err := o.repository(ctx, req.SourceRepository)
	if err != nil {
		return Outcome{}, err
	}

	dst, err := o.repository(ctx, req.DestinationRepository)
	if err != nil {
		return Outcome{}, err
	}

	if src.GlobusEndpointID == "" && dst.GlobusEndpointID == "" {
		return Outcome{}, &EndpointError{
			SourceRepository:      req.SourceRepository,
			DestinationRepository: req.DestinationRepository,
		}
	}

	if src.GlobusEndpointID == "" || dst.GlobusEndpointID == "" {
		o.logger.Warn("one side of the transfer has no endpoint",
			slog.String("source_repository", req.SourceRepository),
			slog.String("destination_repository", req.DestinationRepository),
		)
	}

	out := Outcome{
		Request:    req,
		Descriptor: BuildDescriptor(req, src, dst),
		DryRun:     dryRun,
	}

	if dryRun {
		o.logger.Info("dry run: would submit transfer",
			slog.String("dataset", req.Dataset),
			slog.String("source_endpoint", out.Descriptor.SourceEndpoint),
			slog.String("source_path", out.Descriptor.SourcePath),
			slog.String("destination_endpoint", out.Descriptor.DestinationEndpoint),
			slog.String("destination_path", out.Descriptor.DestinationPath),
			slog.String("label", out.Descriptor.Label),
		)
		o.metrics.ObserveTransfer("dry_run")
		o.record(ctx, out)

		return out, nil
	}

	sub, err := o.service.Submit(ctx, out.Descriptor)
	if err != nil {
		return Outcome{}, fmt.Errorf("transfer: submitting %s: %w", out.Descriptor.Label, err)
	}

	out.TaskID = sub.TaskID
	out.Code = sub.Code
	out.Message = sub.Message

	o.logger.Info("transfer submitted",
		slog.String("dataset", req.Dataset),
		slog.String("task_id", sub.TaskID),
		slog.String("code", sub.Code),
		slog.String("message", sub.Message),
	)
	o.metrics.ObserveTransfer("submit")
	o.record(ctx, out)

	return out, nil
}

// TransferRequired submits every transfer the reconciler yields, in order.
// The first error stops the run; outcomes gathered so far are returned.
// Cancelling ctx stops the run before the next submission.
func (o *Orchestrator) TransferRequired(ctx context.Context, r Reconciler, dataset string, dryRun bool) ([]Outcome, error) {
	var outcomes []Outcome

	for req, err := range r.TransfersRequired(ctx, dataset) {
		if err != nil {
			return outcomes, err
		}

		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("transfer: run interrupted: %w", err)
		}

		out, err := o.Submit(ctx, req, dryRun)
		if err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, out)
	}

	return outcomes, nil
}

// TransferPair replicates one explicit source file record onto one explicit
// destination record.
func (o *Orchestrator) TransferPair(ctx context.Context, sourceID, destinationID string, dryRun bool) (Outcome, error) {
	src, err := o.catalog.File(ctx, sourceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("transfer: source file %s: %w", sourceID, err)
	}

	dst, err := o.catalog.File(ctx, destinationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("transfer: destination file %s: %w", destinationID, err)
	}

	req, err := reconcile.NewTransferRequest(src, dst)
	if err != nil {
		return Outcome{}, err
	}

	return o.Submit(ctx, req, dryRun)
}

// TaskStatus fetches a task from the transfer service and refreshes its
// recorded status.
func (o *Orchestrator) TaskStatus(ctx context.Context, taskID string) (Task, error) {
	task, err := o.service.Task(ctx, taskID)
	if err != nil {
		return Task{}, fmt.Errorf("transfer: task %s: %w", taskID, err)
	}

	if o.recorder != nil {
		if err := o.recorder.UpdateStatus(ctx, taskID, task.Status); err != nil {
			o.logger.Warn("failed to record task status",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
		}
	}

	return task, nil
}

// BuildDescriptor assembles the task description for req. Paths are rooted
// at each repository's transfer path when the catalog defines one.
func BuildDescriptor(req reconcile.TransferRequest, src, dst catalog.DataRepository) Descriptor {
	return Descriptor{
		SourceEndpoint:      src.GlobusEndpointID,
		DestinationEndpoint: dst.GlobusEndpointID,
		SourcePath:          repositoryPath(src, req.SourcePath),
		DestinationPath:     repositoryPath(dst, req.DestinationPath),
		Label:               Label(req.SourceRepository, req.SourcePath, req.DestinationRepository, req.DestinationPath),
		VerifyChecksum:      true,
		SyncLevel:           SyncLevelChecksum,
	}
}

func repositoryPath(repo catalog.DataRepository, rel string) string {
	if repo.GlobusPath == "" {
		return rel
	}

	return path.Join(repo.GlobusPath, rel)
}

// repository resolves a data repository, consulting the cache first.
func (o *Orchestrator) repository(ctx context.Context, name string) (catalog.DataRepository, error) {
	if repo, ok := o.repos.Get(name); ok {
		o.metrics.ObserveCache(true)
		return repo, nil
	}

	o.metrics.ObserveCache(false)

	repo, err := o.catalog.DataRepository(ctx, name)
	if err != nil {
		return catalog.DataRepository{}, fmt.Errorf("transfer: resolving repository %s: %w", name, err)
	}

	o.repos.Add(name, repo)

	return repo, nil
}

// record stores the outcome when a recorder is configured. Failing to record
// does not undo a submitted transfer, so it is only logged.
func (o *Orchestrator) record(ctx context.Context, out Outcome) {
	if o.recorder == nil {
		return
	}

	if err := o.recorder.Record(ctx, o.runID, out); err != nil {
		o.logger.Warn("failed to record transfer outcome",
			slog.String("label", out.Descriptor.Label),
			slog.String("error", err.Error()),
		)
	}
}
