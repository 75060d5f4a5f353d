package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"risk_desk/internal/models"
	"risk_desk/internal/runner"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [account...]",
	Short: "Margin, loss limits, position and breaker per account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			ids := args
			if len(ids) == 0 {
				accounts, err := c.Accounts(ctx)
				if err != nil {
					return err
				}
				for _, a := range accounts {
					ids = append(ids, a.ID)
				}
			}

			statuses := make([]runner.AccountStatus, 0, len(ids))
			for _, id := range ids {
				st, err := c.Status(ctx, id)
				if err != nil {
					return errors.Wrapf(err, "status %s", id)
				}
				statuses = append(statuses, st)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), statuses)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tACTIVE\tDEPLOYED\tUSABLE\tDAILY %\tWEEKLY %\tPOSITION\tBREAKER")
			for _, st := range statuses {
				daily, weekly := "-", "-"
				for _, l := range st.Limits {
					if !l.LimitValue.IsPositive() {
						continue
					}
					v := l.UtilizationPct().StringFixed(1)
					if l.IsBreached {
						v += "!"
					}
					if l.LimitType == models.LimitDailyLoss {
						daily = v
					} else {
						weekly = v
					}
				}
				pos := "-"
				if p := st.Position; p != nil {
					pos = fmt.Sprintf("%s %s x%d", p.Direction, p.Instrument, p.Quantity)
				}
				brk := "-"
				if cb := st.Breaker; cb != nil && cb.IsActive {
					brk = fmt.Sprintf("%s until %s", cb.TriggerType, cb.CooldownUntil.Format(time.DateTime))
				}
				fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%s\t%s\t%s\t%s\n", st.Account.ID, st.Account.IsActive,
					st.Margin.Deployed.StringFixed(0), st.Margin.Usable.StringFixed(0), daily, weekly, pos, brk)
			}
			return w.Flush()
		})
	},
}

var resetBy string

var resetBreakerCmd = &cobra.Command{
	Use:   "reset-breaker <account>",
	Short: "Clear an active breaker after its cooldown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetBy == "" {
			return errors.New("--by is required")
		}
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			cb, err := c.ResetBreaker(ctx, args[0], resetBy)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), cb)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "breaker %s on %s reset by %s; account stays inactive until reactivate\n",
				cb.ID, cb.AccountID, cb.ResetBy)
			return nil
		})
	},
}

var reactivateCmd = &cobra.Command{
	Use:   "reactivate <account>",
	Short: "Allow new entries again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			if err := c.Reactivate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reactivated\n", args[0])
			return nil
		})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <account>",
	Short: "Block new entries; an open position is still monitored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, c *runner.Controller) error {
			if err := c.Deactivate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deactivated\n", args[0])
			return nil
		})
	},
}

func init() {
	resetBreakerCmd.Flags().StringVar(&resetBy, "by", "", "who resets the breaker (recorded in its log)")
	rootCmd.AddCommand(statusCmd, resetBreakerCmd, reactivateCmd, deactivateCmd)
}
