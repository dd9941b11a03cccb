package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/ingestion"
	"github.com/smallbiznis/possync/internal/pullsync"
	"github.com/smallbiznis/possync/internal/pushsync"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	errPushIncomplete      = errors.New("push finished with errors")
	errIngestionIncomplete = errors.New("ingestion finished with errors")
)

var (
	pullLocationCode string
	pullRemoteSyncID int64

	pushContingencyID int64
	pushAll           bool
)

type pullDeps struct {
	fx.In

	Pull *pullsync.Service
}

type pushDeps struct {
	fx.In

	Push *pushsync.Service
}

type ingestionDeps struct {
	fx.In

	Ingestion *ingestion.Service
}

var syncLocationCmd = &cobra.Command{
	Use:   "sync-location",
	Short: "Pull clients and reference data from the admin node",
	Long:  "Replace the local client cache, devices, users and parameters with the admin node's current data. Fails while a push for the location is in progress.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps pullDeps) error {
			event, err := deps.Pull.SyncToLocation(ctx, pullsync.Request{
				LocationCode: pullLocationCode,
				RemoteSyncID: pullRemoteSyncID,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), event)
			}
			printPullEvent(cmd.OutOrStdout(), event)
			return nil
		})
	},
}

var syncToAdminCmd = &cobra.Command{
	Use:   "sync-location-to-admin",
	Short: "Push closed contingencies to the admin node",
	Long:  "Export the closed contingencies with their sales and payments and upload them to the admin node. Without flags only contingencies ended after the last successful push are sent.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps pushDeps) error {
			result, err := deps.Push.SyncToAdmin(ctx, pushRequest(pushContingencyID, pushAll))
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printPushResult(cmd.OutOrStdout(), result)
			}
			if !result.Ok() {
				return fmt.Errorf("%w: %d error(s)", errPushIncomplete, len(result.Errors))
			}
			return nil
		})
	},
}

var processPendingCmd = &cobra.Command{
	Use:   "process-pending-main-sync",
	Short: "Ingest uploaded pushes on the admin node",
	Long:  "Process the newest uploaded push of each location and discard older pending ones.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps ingestionDeps) error {
			results, err := deps.Ingestion.ProcessPending(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				printIngestion(cmd.OutOrStdout(), results)
			}
			if n := failedEvents(results); n > 0 {
				return fmt.Errorf("%w: %d location(s) failed", errIngestionIncomplete, n)
			}
			return nil
		})
	},
}

func init() {
	syncLocationCmd.Flags().StringVar(&pullLocationCode, "location-code", "", "Location to pull for (default: LOCATION_CODE parameter)")
	syncLocationCmd.Flags().Int64Var(&pullRemoteSyncID, "remote-sync-id", 0, "Admin sync event to confirm instead of starting a new one")

	syncToAdminCmd.Flags().Int64Var(&pushContingencyID, "contingency-id", 0, "Push only this contingency")
	syncToAdminCmd.Flags().BoolVar(&pushAll, "all-contingencies", false, "Push every contingency, including the open one")
	syncToAdminCmd.MarkFlagsMutuallyExclusive("contingency-id", "all-contingencies")
}

func pushRequest(contingencyID int64, all bool) pushsync.Request {
	return pushsync.Request{ContingencyID: snowflake.ID(contingencyID), All: all}
}

func failedEvents(results []ingestion.EventResult) int {
	n := 0
	for _, r := range results {
		if r.Status == syncdomain.StatusFailed || r.Err != nil {
			n++
		}
	}
	return n
}
