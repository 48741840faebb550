package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/errors"
)

// DailiesCmd represents the dailies command
var DailiesCmd = &cobra.Command{
	Use:   "dailies",
	Short: "Browse imported dailies and their health pillars",
}

var dailiesLimit int

var dailiesListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List dailies with their linked pillars",
	RunE:    runDailiesList,
}

var dailiesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one daily",
	Args:  cobra.ExactArgs(1),
	RunE:  runDailiesShow,
}

func init() {
	dailiesListCmd.Flags().IntVar(&dailiesLimit, "limit", 50, "Maximum number of dailies to list (0 = all)")

	DailiesCmd.AddCommand(dailiesListCmd)
	DailiesCmd.AddCommand(dailiesShowCmd)
}

// dailyView is a daily plus the names of the pillars it is linked to.
type dailyView struct {
	*catalog.Daily
	Pillars []string `json:"pillars"`
}

func loadDailyViews(ctx context.Context, store *catalog.Store, limit int) ([]dailyView, error) {
	dailies, err := store.ListDailies(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]dailyView, 0, len(dailies))
	for _, d := range dailies {
		names, err := store.PillarNamesForDaily(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, dailyView{Daily: d, Pillars: names})
	}
	return views, nil
}

func loadDailyView(ctx context.Context, store *catalog.Store, id int64) (dailyView, error) {
	d, err := store.GetDaily(ctx, id)
	if err != nil {
		return dailyView{}, err
	}
	names, err := store.PillarNamesForDaily(ctx, d.ID)
	if err != nil {
		return dailyView{}, err
	}
	return dailyView{Daily: d, Pillars: names}, nil
}

func runDailiesList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	views, err := loadDailyViews(context.Background(), a.catalog(), dailiesLimit)
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(views)
	}
	if len(views) == 0 {
		pterm.Info.Println("No dailies imported yet")
		return nil
	}

	data := pterm.TableData{{"ID", "Unleash ID", "Name", "Minutes", "Effort", "Pillars"}}
	for _, v := range views {
		data = append(data, []string{
			strconv.FormatInt(v.ID, 10),
			v.UnleashID,
			truncate(v.Name, 40),
			strconv.Itoa(v.DurationMinutes),
			strconv.Itoa(v.Effort),
			truncate(strings.Join(v.Pillars, ", "), 40),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runDailiesShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.NewInvalidRequestError("daily id must be a number, got %q", args[0])
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := loadDailyView(context.Background(), a.catalog(), id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return fmt.Errorf("daily %d not found", id)
		}
		return err
	}
	if JSONOutput {
		return printJSON(v)
	}

	pterm.Info.Printf("%s (%s)\n", v.Name, v.UnleashID)
	pterm.Printf("  Duration: %d min, effort %d\n", v.DurationMinutes, v.Effort)
	if v.Category != "" {
		pterm.Printf("  Category: %s\n", v.Category)
	}
	if len(v.Tools) > 0 {
		pterm.Printf("  Tools: %s\n", strings.Join(v.Tools, ", "))
	}
	if len(v.Pillars) > 0 {
		pterm.Printf("  Pillars: %s\n", strings.Join(v.Pillars, ", "))
	} else {
		pterm.Printf("  Pillars: none\n")
	}
	if v.Description != "" {
		pterm.Printf("  %s\n", v.Description)
	}
	return nil
}
