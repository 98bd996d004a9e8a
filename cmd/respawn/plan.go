package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"db_respawn/internal/reset"
	"db_respawn/internal/storage"
	"db_respawn/internal/targets"
)

var (
	flagPlanOut    string
	flagPlanVerify bool
)

var planCmd = &cobra.Command{
	Use:   "plan [target...]",
	Short: "Show the statements a reset would run",
	Long: `Plan connects to each target, reads its tables and foreign keys and
prints the deletion order and the SQL a reset would execute. Nothing is
modified.

With --out the scripts and a manifest are also written to
<out>/plans/<target>/.

With --verify nothing is written. Each stored plan is compared with the
freshly built one and the command fails when a schema change made it stale
or its scripts were edited on disk. Plans are read from --out, or from the
configured plan_dir.

Example:
  respawn plan
  respawn plan app_test --out ./build
  respawn plan --verify --out ./build`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&flagPlanOut, "out", "", "directory to store plans in")
	planCmd.Flags().BoolVar(&flagPlanVerify, "verify", false, "compare stored plans with fresh ones instead of printing")
}

var errStalePlan = errors.New("stored plan is out of date")

func runPlan(cmd *cobra.Command, args []string) error {
	set, names, err := openTargets(args)
	if err != nil {
		return err
	}
	defer set.Close()

	out := cmd.OutOrStdout()
	if flagPlanVerify {
		return verifyPlans(cmd, set, names)
	}
	for _, name := range names {
		t, _ := set.Get(name)
		plan, err := t.Plan(cmd.Context())
		if err != nil {
			return err
		}
		printPlan(out, name, plan)

		if flagPlanOut != "" {
			if err := storage.EnsureBase(flagPlanOut); err != nil {
				return err
			}
			rec, err := storage.StorePlan(flagPlanOut, name, plan)
			if err != nil {
				return fmt.Errorf("store plan %s: %w", name, err)
			}
			fmt.Fprintf(out, "-- stored %s (sha256 %s)\n", rec.DeleteFile, rec.Checksum)
		}
	}
	return nil
}

func verifyPlans(cmd *cobra.Command, set *targets.Set, names []string) error {
	base := flagPlanOut
	if base == "" {
		base = cfg.PlanDir
	}
	if base == "" {
		return errors.New("--verify needs --out or plan_dir")
	}

	out := cmd.OutOrStdout()
	var stale []string
	for _, name := range names {
		t, _ := set.Get(name)
		plan, err := t.Plan(cmd.Context())
		if err != nil {
			return err
		}
		status, err := storage.CheckPlan(base, name, plan)
		if err != nil {
			return fmt.Errorf("check plan %s: %w", name, err)
		}
		switch {
		case !status.Intact:
			fmt.Fprintf(out, "%s\tmodified\t%s\n", name, status.Record.DeleteFile)
			stale = append(stale, name)
		case !status.Current:
			fmt.Fprintf(out, "%s\tstale\tstored %s\n", name, status.Record.CreatedAt.Format(time.RFC3339))
			stale = append(stale, name)
		default:
			fmt.Fprintf(out, "%s\tcurrent\n", name)
		}
	}
	if len(stale) > 0 {
		return fmt.Errorf("%w: %s", errStalePlan, strings.Join(stale, ", "))
	}
	return nil
}

func printPlan(w io.Writer, name string, plan *reset.Plan) {
	g := plan.Graph
	fmt.Fprintf(w, "-- target %s (%s): %d tables, %d cyclical\n", name, plan.Dialect.Provider(), len(plan.Tables), len(g.CyclicalTables))
	for i, t := range g.ToDelete {
		fmt.Fprintf(w, "--   %3d. %s\n", i+1, t)
	}
	for _, t := range g.CyclicalTables {
		fmt.Fprintf(w, "--   cyclical: %s\n", t)
	}
	fmt.Fprint(w, plan.DeleteSQL)
	if plan.ReseedSQL != "" {
		fmt.Fprint(w, plan.ReseedSQL)
	}
	fmt.Fprintln(w)
}
