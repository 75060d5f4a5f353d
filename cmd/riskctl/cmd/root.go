package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"risk_desk/internal/broker"
	"risk_desk/internal/broker/paper"
	"risk_desk/internal/gate"
	"risk_desk/internal/modules/config"
	"risk_desk/internal/modules/market_ws"
	"risk_desk/internal/modules/market_ws/service"
	"risk_desk/internal/modules/storage"
	"risk_desk/internal/notify"
	"risk_desk/internal/runner"
	"risk_desk/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var rootCmd = &cobra.Command{
	Use:   "riskctl",
	Short: "Operator CLI for the risk desk",
	Long: `riskctl reads the same config and storage as the running bot.

Examples:
  riskctl status
  riskctl status desk-main --json
  riskctl reset-breaker desk-main --by risk-officer
  riskctl reactivate desk-main
  riskctl positions desk-main`,
	SilenceUsage: true,
}

var (
	configPath string
	asJSON     bool
	verbose    bool
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default configs/$CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stdout")
}

// withController builds the controller over the configured storage, runs
// fn and shuts everything down again.
func withController(cmd *cobra.Command, fn func(ctx context.Context, c *runner.Controller) error) error {
	if verbose {
		if err := logger.Init(logger.Config{Level: "debug"}); err != nil {
			return err
		}
	} else {
		logger.InitNop()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	var c *runner.Controller
	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() context.Context { return ctx },
			loadConfig,
			func(cfg *config.Config) broker.MarketData {
				return market_ws.NewMarketData(cfg, service.NewFeed())
			},
			func(md broker.MarketData) broker.OrderExecutor { return paper.New(md) },
			func() notify.Notifier { return printNotifier{w: out} },
			gate.New,
			runner.NewController,
		),
		storage.Module(),
		fx.Populate(&c),
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	return fn(ctx, c)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.NewConfig()
	}
	return config.Load(configPath)
}

// printNotifier writes alerts straight to the terminal.
type printNotifier struct{ w io.Writer }

func (p printNotifier) Notify(a notify.Alert) (bool, string) {
	fmt.Fprintf(p.w, "[%s] %s\n", a.Priority(), a.Text())
	return true, "printed"
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, buf.String())
	return err
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
