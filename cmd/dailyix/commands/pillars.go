package commands

import (
	"context"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// PillarsCmd represents the pillars command
var PillarsCmd = &cobra.Command{
	Use:   "pillars",
	Short: "Manage health pillars",
	Long: `Health pillars are the targets of daily_health_pillars imports.
A relationship column is only linked when a pillar with that name exists.`,
}

var pillarDescription string

var pillarsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a health pillar if it does not exist",
	Args:  cobra.ExactArgs(1),
	RunE:  runPillarsAdd,
}

var pillarsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List health pillars and catalog counts",
	RunE:    runPillarsList,
}

func init() {
	pillarsAddCmd.Flags().StringVar(&pillarDescription, "description", "", "Pillar description")

	PillarsCmd.AddCommand(pillarsAddCmd)
	PillarsCmd.AddCommand(pillarsListCmd)
}

func runPillarsAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pillar, created, err := a.catalog().EnsurePillar(context.Background(), args[0], pillarDescription)
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(map[string]interface{}{"pillar": pillar, "created": created})
	}
	if created {
		pterm.Success.Printf("Created health pillar %q (id %d)\n", pillar.Name, pillar.ID)
	} else {
		pterm.Info.Printf("Health pillar %q already exists (id %d)\n", pillar.Name, pillar.ID)
	}
	return nil
}

func runPillarsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	pillars, err := a.catalog().ListPillars(ctx)
	if err != nil {
		return err
	}
	counts, err := a.catalog().Counts(ctx)
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(map[string]interface{}{"pillars": pillars, "counts": counts})
	}

	data := pterm.TableData{{"ID", "Name", "Description"}}
	for _, p := range pillars {
		data = append(data, []string{strconv.FormatInt(p.ID, 10), p.Name, truncate(p.Description, 50)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Info.Printf("%d dailies, %d pillars, %d links\n", counts.Dailies, counts.Pillars, counts.Links)
	return nil
}
