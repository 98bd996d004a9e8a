package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagResetAll bool
	flagResetYes bool
)

var resetCmd = &cobra.Command{
	Use:   "reset [target...]",
	Short: "Delete every row of the given targets",
	Long: `Reset empties the named targets, or all of them with --all. Independent
targets are reset in parallel, up to the configured parallelism.

Example:
  respawn reset app_test --yes
  respawn reset --all --yes`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&flagResetAll, "all", false, "reset every configured target")
	resetCmd.Flags().BoolVarP(&flagResetYes, "yes", "y", false, "do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !flagResetAll {
		return errors.New("name at least one target or pass --all")
	}
	if len(args) > 0 && flagResetAll {
		return errors.New("--all cannot be combined with target names")
	}

	set, names, err := openTargets(args)
	if err != nil {
		return err
	}
	defer set.Close()

	out := cmd.OutOrStdout()
	if !flagResetYes {
		fmt.Fprintf(out, "Delete all rows in %s? [y/N] ", strings.Join(names, ", "))
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(out, "aborted")
			return nil
		}
	}

	runs, err := set.ResetMany(cmd.Context(), names)
	for _, run := range runs {
		fmt.Fprintf(out, "%s\t%s\t%d tables\t%s\t%s\n", run.Target, run.Status, run.Tables, run.Duration, run.ID)
	}
	return err
}
