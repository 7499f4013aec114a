package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Strob0t/LaunchLoop/internal/adapter/triggerfile"
	"github.com/Strob0t/LaunchLoop/internal/domain/condition"
)

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Work with trigger definitions",
	}
	cmd.AddCommand(newTriggerCheckCmd(), newConditionCmd())
	return cmd
}

func newTriggerCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file|dir>",
		Short: "Validate trigger definition files offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := definitionFiles(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no trigger definitions in %s", args[0])
			}
			out := cmd.OutOrStdout()
			invalid := 0
			for _, f := range files {
				fmt.Fprintln(out, styles.Header.Render(f.Path))
				if f.Err != nil {
					invalid++
					fmt.Fprintln(out, "  "+fail(f.Err.Error()))
					continue
				}
				for i := range f.Triggers {
					t := &f.Triggers[i]
					cond, err := t.Validate()
					if err != nil {
						invalid++
						fmt.Fprintln(out, "  "+fail(t.ID+": "+err.Error()))
						continue
					}
					line := fmt.Sprintf("%s  %s", t.ID, styles.Muted.Render(cond.String()))
					if !t.Enabled {
						line += styles.Warning.Render("  (disabled)")
					}
					fmt.Fprintln(out, "  "+ok(line))
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d invalid definition(s)", invalid)
			}
			return nil
		},
	}
}

// definitionFiles loads a single file or every definition file of a dir.
func definitionFiles(path string) ([]triggerfile.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return triggerfile.LoadDir(path)
	}
	defs, err := triggerfile.ParseFile(path)
	return []triggerfile.File{{Path: path, Triggers: defs, Err: err}}, nil
}

func newConditionCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "condition <expression>",
		Short: "Parse a condition and print its canonical form",
		Long: "Parse a condition and print its canonical form. With --field the\n" +
			"argument is read as shorthand, e.g. --field likes \"< 5 after 1h\".",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := strings.Join(args, " ")
			if field != "" {
				sh, err := condition.ParseShorthand(field, src)
				if err != nil {
					return err
				}
				src = sh.Expression()
			}
			cond, err := condition.Parse(src)
			if err != nil {
				return err
			}
			body := fmt.Sprintf("%s\n%s %s\n%s %s",
				styles.Title.Render(cond.String()),
				styles.Muted.Render("fields:  "), strings.Join(condition.Referenced(cond.Root), ", "),
				styles.Muted.Render("lookback:"), fmt.Sprintf("%gs", condition.MaxLookback(cond.Root)),
			)
			fmt.Fprintln(cmd.OutOrStdout(), styles.Box.Render(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "metric field for shorthand input")
	return cmd
}
