package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type contingencyDeps struct {
	fx.In

	Contingency contingencydomain.Service
}

var startUserID int64

var startContingencyCmd = &cobra.Command{
	Use:   "start-contingency",
	Short: "Open a contingency on this location",
	Long:  "Open a contingency so quotes, sales and payments can be recorded while the admin node is unreachable. Requires a recent successful pull.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps contingencyDeps) error {
			return runStartContingency(ctx, cmd, deps)
		})
	},
}

var endContingencyCmd = &cobra.Command{
	Use:   "end-contingency",
	Short: "Close the open contingency, if any",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps contingencyDeps) error {
			return runEndContingency(ctx, cmd, deps)
		})
	},
}

func init() {
	startContingencyCmd.Flags().Int64Var(&startUserID, "user-id", 0, "User opening the contingency")
}

func runStartContingency(ctx context.Context, cmd *cobra.Command, deps contingencyDeps) error {
	started, err := deps.Contingency.Start(ctx, contingencydomain.StartRequest{UserID: snowflake.ID(startUserID)})
	if err != nil {
		return startFailure(err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), started)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Contingency %s started for location %s\n", started.ID, started.LocationCode)
	return nil
}

// startFailure rewords a conflicting start for the operator. The open
// contingency is unknown when it closed right after the conflict.
func startFailure(err error) error {
	var open *contingencydomain.AlreadyOpenError
	if !errors.As(err, &open) {
		return err
	}
	if open.Open == nil {
		return errors.New("another contingency was open; check its state and retry")
	}
	return fmt.Errorf("contingency %s is already open since %s", open.Open.ID, open.Open.StartedAt.Format("2006-01-02 15:04:05"))
}

func runEndContingency(ctx context.Context, cmd *cobra.Command, deps contingencyDeps) error {
	ended, err := deps.Contingency.End(ctx)
	if errors.Is(err, contingencydomain.ErrNoOpenContingency) {
		fmt.Fprintln(cmd.OutOrStdout(), "No open contingency")
		return nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), ended)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Contingency %s ended at %s\n", ended.ID, ended.EndedAt.Format("2006-01-02 15:04:05"))
	return nil
}
