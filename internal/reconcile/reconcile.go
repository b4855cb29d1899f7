// Package reconcile computes which file copies are missing from the catalog
// and which existing copy should source each one. The result is a sequence
// of TransferRequests, one per missing record whose dataset has at least one
// confirmed copy somewhere.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"github.com/cortexlab/alyx-go/internal/catalog"
)

// DefaultWindow keeps only the most recent missing records per run.
const DefaultWindow = 10

// ErrDataIntegrity marks a catalog state that breaks the pairing contract:
// a source that does not exist or a destination that already does.
var ErrDataIntegrity = errors.New("reconcile: data integrity violation")

// IntegrityError reports which records broke the pairing contract.
type IntegrityError struct {
	Dataset       string
	SourceID      string
	DestinationID string
	Reason        string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("reconcile: dataset %s: source %s, destination %s: %s",
		e.Dataset, e.SourceID, e.DestinationID, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// TransferRequest pairs one existing file record with one missing record of
// the same dataset. Values are never mutated after creation.
type TransferRequest struct {
	Dataset               string
	Source                catalog.FileRecord
	Destination           catalog.FileRecord
	SourceRepository      string
	DestinationRepository string
	SourcePath            string
	DestinationPath       string
	SourceFileID          string
	DestinationFileID     string
}

// NewTransferRequest checks the pairing contract and builds the request.
func NewTransferRequest(source, destination catalog.FileRecord) (TransferRequest, error) {
	dataset := destination.DatasetID()

	fail := func(reason string) (TransferRequest, error) {
		return TransferRequest{}, &IntegrityError{
			Dataset:       dataset,
			SourceID:      source.ID,
			DestinationID: destination.ID,
			Reason:        reason,
		}
	}

	switch {
	case !source.Exists:
		return fail("source copy does not exist")
	case destination.Exists:
		return fail("destination copy already exists")
	case source.DatasetID() != dataset:
		return fail("source and destination belong to different datasets")
	}

	srcID, err := fileID(source)
	if err != nil {
		return TransferRequest{}, err
	}

	dstID, err := fileID(destination)
	if err != nil {
		return TransferRequest{}, err
	}

	return TransferRequest{
		Dataset:               dataset,
		Source:                source,
		Destination:           destination,
		SourceRepository:      source.DataRepository,
		DestinationRepository: destination.DataRepository,
		SourcePath:            source.RelativePath,
		DestinationPath:       destination.RelativePath,
		SourceFileID:          srcID,
		DestinationFileID:     dstID,
	}, nil
}

// fileID prefers the trailing segment of the canonical URL.
func fileID(r catalog.FileRecord) (string, error) {
	if r.URL != "" {
		id, err := catalog.ExtractID(r.URL)
		if err != nil {
			return "", fmt.Errorf("reconcile: file record URL: %w", err)
		}

		return id, nil
	}

	if r.ID == "" {
		return "", fmt.Errorf("reconcile: file record in dataset %s has no identifier", r.DatasetID())
	}

	return r.ID, nil
}

// FileLister is the slice of the catalog client the engine needs.
type FileLister interface {
	ListFiles(ctx context.Context, q catalog.FileQuery) ([]catalog.FileRecord, error)
}

// Options tunes an Engine.
type Options struct {
	// Window keeps only the last Window missing records returned by the
	// catalog. Zero processes every record.
	Window int
}

// Engine reconciles catalog state into transfer requests.
type Engine struct {
	files  FileLister
	window int
	logger *slog.Logger
}

// NewEngine creates an Engine backed by files.
func NewEngine(files FileLister, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{files: files, window: opts.Window, logger: logger}
}

// TransfersRequired returns the transfers needed to fill every missing copy,
// optionally limited to one dataset. Each range over the sequence queries
// the catalog afresh. The first error is yielded with a zero request and
// ends the sequence.
func (e *Engine) TransfersRequired(ctx context.Context, dataset string) iter.Seq2[TransferRequest, error] {
	return func(yield func(TransferRequest, error) bool) {
		missing, err := e.missing(ctx, dataset)
		if err != nil {
			yield(TransferRequest{}, err)
			return
		}

		for _, group := range GroupByDataset(missing) {
			datasetID := group[0].DatasetID()

			existing, err := e.files.ListFiles(ctx, catalog.FileQuery{Exists: ptr(true), Dataset: datasetID})
			if err != nil {
				yield(TransferRequest{}, fmt.Errorf("reconcile: existing copies of dataset %s: %w", datasetID, err))
				return
			}

			if len(existing) == 0 {
				e.logger.Info("no existing copy, skipping dataset",
					slog.String("dataset", datasetID),
					slog.Int("missing", len(group)),
				)

				continue
			}

			source := existing[0]

			e.logger.Debug("reconciling dataset",
				slog.String("dataset", datasetID),
				slog.Int("missing", len(group)),
				slog.Int("existing", len(existing)),
				slog.String("source", source.ID),
			)

			for _, dst := range group {
				req, err := NewTransferRequest(source, dst)
				if err != nil {
					yield(TransferRequest{}, err)
					return
				}

				if !yield(req, nil) {
					return
				}
			}
		}
	}
}

// missing fetches the records lacking a copy and applies the window.
func (e *Engine) missing(ctx context.Context, dataset string) ([]catalog.FileRecord, error) {
	records, err := e.files.ListFiles(ctx, catalog.FileQuery{Exists: ptr(false), Dataset: dataset})
	if err != nil {
		return nil, fmt.Errorf("reconcile: listing missing files: %w", err)
	}

	if e.window > 0 && len(records) > e.window {
		e.logger.Warn("truncating missing records to window",
			slog.Int("total", len(records)),
			slog.Int("window", e.window),
		)

		records = records[len(records)-e.window:]
	}

	return records, nil
}

// GroupByDataset stably sorts records by dataset and splits them into
// contiguous runs sharing a dataset. The input slice is not modified.
func GroupByDataset(records []catalog.FileRecord) [][]catalog.FileRecord {
	sorted := make([]catalog.FileRecord, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Dataset < sorted[j].Dataset
	})

	var groups [][]catalog.FileRecord

	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].Dataset == sorted[start].Dataset {
			end++
		}

		groups = append(groups, sorted[start:end])
		start = end
	}

	return groups
}

func ptr[T any](v T) *T {
	return &v
}
