package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cortexlab/alyx-go/internal/catalog"
	"github.com/cortexlab/alyx-go/internal/globus"
	"github.com/cortexlab/alyx-go/internal/ledger"
	"github.com/cortexlab/alyx-go/internal/reconcile"
	"github.com/cortexlab/alyx-go/internal/transfer"
)

const defaultHistoryLimit = 20

// requestView is the JSON shape of one required transfer.
type requestView struct {
	Dataset               string `json:"dataset"`
	SourceFileID          string `json:"source_file_id"`
	DestinationFileID     string `json:"destination_file_id"`
	SourceRepository      string `json:"source_repository"`
	DestinationRepository string `json:"destination_repository"`
	SourcePath            string `json:"source_path"`
	DestinationPath       string `json:"destination_path"`
}

func newRequestView(r reconcile.TransferRequest) requestView {
	return requestView{
		Dataset:               r.Dataset,
		SourceFileID:          r.SourceFileID,
		DestinationFileID:     r.DestinationFileID,
		SourceRepository:      r.SourceRepository,
		DestinationRepository: r.DestinationRepository,
		SourcePath:            r.SourcePath,
		DestinationPath:       r.DestinationPath,
	}
}

// outcomeView is the JSON shape of one handled transfer.
type outcomeView struct {
	requestView
	SourceEndpoint      string `json:"source_endpoint"`
	DestinationEndpoint string `json:"destination_endpoint"`
	Label               string `json:"label"`
	DryRun              bool   `json:"dry_run"`
	TaskID              string `json:"task_id,omitempty"`
	Code                string `json:"code,omitempty"`
	Message             string `json:"message,omitempty"`
}

func newOutcomeView(o transfer.Outcome) outcomeView {
	return outcomeView{
		requestView:         newRequestView(o.Request),
		SourceEndpoint:      o.Descriptor.SourceEndpoint,
		DestinationEndpoint: o.Descriptor.DestinationEndpoint,
		Label:               o.Descriptor.Label,
		DryRun:              o.DryRun,
		TaskID:              o.TaskID,
		Code:                o.Code,
		Message:             o.Message,
	}
}

func newTransfersCmd() *cobra.Command {
	var dataset string

	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "List the transfers needed to fill missing file copies",
		Long: `Compare missing and existing file records in the catalog and list one transfer
per missing copy whose dataset has an existing copy somewhere. Nothing is
submitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			client, err := cc.catalogClient()
			if err != nil {
				return err
			}

			engine := reconcile.NewEngine(client, reconcile.Options{Window: cc.Cfg.Reconcile.Window}, cc.Logger)

			var views []requestView

			for req, err := range engine.TransfersRequired(cmd.Context(), dataset) {
				if err != nil {
					return err
				}

				views = append(views, newRequestView(req))
			}

			return printRequests(cc, views)
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "restrict to one dataset id")

	return cmd
}

func printRequests(cc *CLIContext, views []requestView) error {
	if cc.wantJSON() {
		if views == nil {
			views = []requestView{}
		}

		return printJSON(cc.Out, views)
	}

	if len(views) == 0 {
		cc.Statusf("No transfers required.\n")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.Dataset, v.SourceRepository, v.DestinationRepository, v.DestinationPath, v.DestinationFileID,
		})
	}

	printTable(cc.Out, []string{"DATASET", "FROM", "TO", "PATH", "FILE"}, rows)

	return nil
}

func newTransferCmd() *cobra.Command {
	var (
		dataset string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "transfer [<source-file-id> <destination-file-id>]",
		Short: "Submit transfers for missing file copies",
		Long: `Submit one transfer task per missing file copy, or for one explicit pair of
file records. With --dry-run the tasks are only logged and recorded.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 args, received %d", len(args))
			}

			if len(args) == 2 && dataset != "" {
				return fmt.Errorf("--dataset cannot be combined with an explicit file pair")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := shutdownContext(cmd.Context(), cc.Logger)

			client, err := cc.catalogClient()
			if err != nil {
				return err
			}

			orch, closeFn, err := cc.orchestrator(ctx, client, !dryRun)
			if err != nil {
				return err
			}
			defer closeFn()

			var outcomes []transfer.Outcome

			if len(args) == 2 {
				out, err := orch.TransferPair(ctx, args[0], args[1], dryRun)
				if err != nil {
					return err
				}

				outcomes = append(outcomes, out)
			} else {
				engine := reconcile.NewEngine(client, reconcile.Options{Window: cc.Cfg.Reconcile.Window}, cc.Logger)

				outcomes, err = orch.TransferRequired(ctx, engine, dataset, dryRun)
				if err != nil {
					// Report what was submitted before the failure.
					_ = printOutcomes(cc, outcomes)
					return err
				}
			}

			return printOutcomes(cc, outcomes)
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "restrict to one dataset id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the transfers without submitting them")

	return cmd
}

func printOutcomes(cc *CLIContext, outcomes []transfer.Outcome) error {
	views := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, newOutcomeView(o))
	}

	if cc.wantJSON() {
		return printJSON(cc.Out, views)
	}

	if len(views) == 0 {
		cc.Statusf("No transfers required.\n")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		task := v.TaskID
		if v.DryRun {
			task = "(dry run)"
		}

		rows = append(rows, []string{v.Dataset, v.Label, task})
	}

	printTable(cc.Out, []string{"DATASET", "LABEL", "TASK"}, rows)

	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the state of a submitted transfer task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			orch, closeFn, err := cc.orchestrator(cmd.Context(), nil, true)
			if err != nil {
				return err
			}
			defer closeFn()

			task, err := orch.TaskStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cc.wantJSON() {
				return printJSON(cc.Out, task)
			}

			printTable(cc.Out, []string{"FIELD", "VALUE"}, [][]string{
				{"Task", task.TaskID},
				{"Status", task.Status},
				{"Label", orDash(task.Label)},
				{"From", orDash(task.SourceEndpoint)},
				{"To", orDash(task.DestinationEndpoint)},
				{"Requested", formatTime(task.RequestTime)},
				{"Completed", formatTime(task.CompletionTime)},
				{"Files", strconv.Itoa(task.Files)},
				{"Transferred", formatSize(task.BytesTransferred)},
			})

			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently recorded transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1, got %d", limit)
			}

			l, err := ledger.Open(cmd.Context(), cc.Cfg.Transfer.LedgerFile, cc.Logger)
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if cc.wantJSON() {
				if entries == nil {
					entries = []ledger.Entry{}
				}

				return printJSON(cc.Out, entries)
			}

			if len(entries) == 0 {
				cc.Statusf("No transfers recorded.\n")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					formatTime(e.SubmittedAt), e.Dataset, e.Label, orDash(e.TaskID), e.Status,
				})
			}

			printTable(cc.Out, []string{"SUBMITTED", "DATASET", "LABEL", "TASK", "STATUS"}, rows)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "number of entries to show")

	return cmd
}

// orchestrator wires the catalog client, the ledger and, when withService
// is set, the Globus transfer client. The returned func closes the ledger.
func (cc *CLIContext) orchestrator(
	ctx context.Context, client *catalog.Client, withService bool,
) (*transfer.Orchestrator, func(), error) {
	var svc transfer.Service

	if withService {
		g, err := cc.globusClient(ctx)
		if err != nil {
			return nil, nil, err
		}

		svc = g
	}

	l, err := ledger.Open(ctx, cc.Cfg.Transfer.LedgerFile, cc.Logger)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		if err := l.Close(); err != nil {
			cc.Logger.Warn("closing ledger", slog.String("error", err.Error()))
		}
	}

	// status needs no catalog access.
	var cat transfer.Catalog
	if client != nil {
		cat = client
	}

	orch := transfer.NewOrchestrator(cat, svc, transfer.Options{
		CacheSize: cc.Cfg.Transfer.EndpointCacheSize,
		CacheTTL:  cc.Cfg.Transfer.EndpointCacheTTLDuration(),
		RunID:     cc.RunID,
		Recorder:  l,
		Metrics:   cc.Metrics,
	}, cc.Logger)

	return orch, closeFn, nil
}

// globusClient builds a Transfer API client from the stored Globus tokens.
func (cc *CLIContext) globusClient(ctx context.Context) (*globus.Client, error) {
	ts, err := globus.TokenSource(ctx, globus.AuthConfig{
		ClientID:  cc.Cfg.Globus.ClientID,
		TokenURL:  cc.Cfg.Globus.TokenURL,
		TokenPath: cc.Cfg.Globus.TokenFile,
	}, cc.Logger)
	if err != nil {
		return nil, err
	}

	httpClient := globus.NewHTTPClient(ctx, ts, cc.Cfg.Network.RequestTimeoutDuration())

	return globus.NewClient(cc.Cfg.Globus.APIURL, httpClient, cc.Logger), nil
}
