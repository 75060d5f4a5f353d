package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"risk_desk/internal/runner"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var positionsCmd = &cobra.Command{
	Use:   "positions <account>",
	Short: "Every position the account has held, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			list, err := c.Store.Positions.ListByAccount(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), list)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPENED\tINSTRUMENT\tDIR\tLOTS\tENTRY\tEXIT\tPNL\tSTATUS\tREASON")
			for _, p := range list {
				pnl, exit := p.UnrealizedPnL, "-"
				if !p.IsActive() {
					pnl, exit = p.RealizedPnL, p.ExitPrice.StringFixed(2)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					p.OpenedAt.Format(time.DateTime), p.Instrument, p.Direction, p.Quantity,
					p.EntryPrice.StringFixed(2), exit, pnl.StringFixed(0), p.Status, p.ExitReason)
			}
			return w.Flush()
		})
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one monitoring tick over every account and print what it did",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			results, err := c.Tick(ctx)
			if asJSON {
				if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
					return perr
				}
				return err
			}
			for _, r := range results {
				line := r.AccountID
				switch {
				case r.Tripped:
					line += ": breaker tripped"
				case r.Closed:
					line += fmt.Sprintf(": closed (%s)", r.Exit.Reason)
				case r.Averaged:
					line += ": averaged"
				case r.Advisory != nil:
					line += ": " + r.Advisory.Text()
				case r.Position != nil:
					line += ": holding " + r.Position.Instrument
				default:
					line += ": flat"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if err != nil {
				fail("tick finished with errors: %v", err)
			}
			return err
		})
	},
}

var closedBy string

var closeCmd = &cobra.Command{
	Use:   "close <account>",
	Short: "Close the account's active position at market",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if closedBy == "" {
			return errors.New("--by is required")
		}
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			p, err := c.ClosePosition(ctx, args[0], closedBy)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s closed at %s, realized %s\n",
				p.AccountID, p.Instrument, p.ExitPrice.StringFixed(2), p.RealizedPnL.StringFixed(2))
			return nil
		})
	},
}

func init() {
	closeCmd.Flags().StringVar(&closedBy, "by", "", "who closes the position (recorded in the alert)")
	rootCmd.AddCommand(positionsCmd, tickCmd, closeCmd)
}
