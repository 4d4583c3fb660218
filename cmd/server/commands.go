package main

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-subs-manager/internal/config"
	"github.com/jrsteele09/go-subs-manager/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd serves HTTP when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:          "subs-manager",
	Short:        "Bulk manage YouTube subscriptions",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect or reset a user's deletion quota",
	Long: `Inspect or reset the per-user deletion quota kept in Redis.

Examples:
  subs-manager quota show 1234567890     # Show used and remaining deletions
  subs-manager quota reset 1234567890    # Close the current window now`,
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show the quota of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaShow,
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Reset the quota window of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaReset,
}

func init() {
	quotaCmd.AddCommand(quotaShowCmd, quotaResetCmd)
	rootCmd.AddCommand(serveCmd, quotaCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return run(config.New())
}

func runQuotaShow(cmd *cobra.Command, args []string) error {
	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel())

	s, err := openStore(cmd.Context(), c)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := newQuotaLedger(s, c).Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "identity:  %s\n", args[0])
	fmt.Fprintf(out, "used:      %d\n", status.Used)
	fmt.Fprintf(out, "remaining: %d\n", status.Remaining)
	if status.ResetIn > 0 {
		fmt.Fprintf(out, "resets in: %s\n", status.ResetIn.Round(time.Second))
	} else {
		fmt.Fprintln(out, "resets in: no open window")
	}
	return nil
}

func runQuotaReset(cmd *cobra.Command, args []string) error {
	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel())

	s, err := openStore(cmd.Context(), c)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := newQuotaLedger(s, c).Reset(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "quota reset for %s\n", args[0])
	return nil
}
