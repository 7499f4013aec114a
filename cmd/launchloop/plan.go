package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/LaunchLoop/internal/domain/plan"
	"github.com/Strob0t/LaunchLoop/internal/service"
)

type planFlags struct {
	format          string
	platform        string
	disableChannels bool
}

func (f *planFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "", "plan format: mermaid, yaml or json (detected when empty)")
	cmd.Flags().StringVar(&f.platform, "platform", "", "platform for channels declared in a mermaid plan")
	cmd.Flags().BoolVar(&f.disableChannels, "disable-channels", false, "import mermaid channels with polling disabled")
}

func (f *planFlags) options() service.ImportOptions {
	return service.ImportOptions{Format: f.format, Platform: f.platform, DisableChannels: f.disableChannels}
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate and import campaign plans",
	}
	cmd.AddCommand(newPlanValidateCmd(), newPlanImportCmd())
	return cmd
}

func newPlanValidateCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Parse a plan and print what it would create",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPlan(cmd, args[0])
			if err != nil {
				return err
			}
			seed, err := service.NewPlanService(nil).Parse(data, flags.options())
			if err != nil {
				return err
			}
			if _, err := plan.Build(seed, time.Now()); err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), "plan is valid", seed.Count())
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newPlanImportCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Bootstrap the configured store with a plan",
		Long: "Bootstrap the configured store with a plan. Import only succeeds on an\n" +
			"empty graph; use the API to change an existing one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPlan(cmd, args[0])
			if err != nil {
				return err
			}
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			if cfg.Storage.Driver == "" || cfg.Storage.Driver == "memory" {
				return fmt.Errorf("plan import needs a persistent storage driver, got %q", cfg.Storage.Driver)
			}

			ctx := cmd.Context()
			st, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			events := service.NewEventService(nil)
			events.SetEventStore(st.Events)
			graphs := service.NewGraphStore(st.Store, events)
			if err := graphs.Load(ctx); err != nil {
				return err
			}
			res, err := service.NewPlanService(graphs).Import(ctx, data, flags.options())
			if err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), fmt.Sprintf("imported as graph version %d", res.Version), res.Counts)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func readPlan(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
}

func printCounts(w io.Writer, title string, c plan.Counts) {
	body := fmt.Sprintf("%s\n%-10s %d\n%-10s %d\n%-10s %d\n%-10s %d\n%-10s %d\n%-10s %d",
		styles.Title.Render(title),
		"phases", c.Phases,
		"channels", c.Channels,
		"campaigns", c.Campaigns,
		"posts", c.Posts,
		"variants", c.Variants,
		"edges", c.Edges,
	)
	fmt.Fprintln(w, styles.Box.Render(body))
}
