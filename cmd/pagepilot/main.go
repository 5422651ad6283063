package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	userFlag   string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "pagepilot",
	Short: "Run browser automation workflows",
	Long: `pagepilot runs workflows of browser automation tasks: each workflow is a
graph of tasks that is executed one phase at a time, charged in credits and
optionally triggered on a cron schedule.

Examples:
  pagepilot workflow import scrape.json --name scrape
  pagepilot workflow publish <workflow-id>
  pagepilot run <workflow-id>
  pagepilot schedule set <workflow-id> "0 */6 * * *"
  pagepilot trigger`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default ~/.pagepilot/settings.json)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user the command acts for (overrides user_id)")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "print JSON output")

	rootCmd.AddCommand(initCmd, workflowCmd, runCmd, scheduleCmd, creditsCmd, executionsCmd,
		triggerCmd, serveCmd, credentialCmd, mcpCmd, versionCmd)
}

// withApp loads configuration, wires the engine and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	path := configPath
	if path == "" {
		path = settingsPath()
	}
	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		return err
	}
	if userFlag != "" {
		cfg.UserID = userFlag
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
