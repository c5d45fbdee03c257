package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"labflow/internal/fixture"
	"labflow/internal/router"
)

func newImportCommand(app *App) *cobra.Command {
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "import <order-sheet.yaml>",
		Short: "Import orders from an order sheet",
		Long: `Import the orders, items and specimens of a YAML order sheet.

Afterwards every imported item is progressed (seeding its first station when
its order is processing) and every imported order is rolled up. Use
--no-progress to load the sheet as-is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := fixture.ReadFile(args[0])
			if err != nil {
				return app.fail(err)
			}
			stats, err := fixture.Import(ctx, app.Store, doc)
			if err != nil {
				return app.fail(err)
			}
			app.Printer.Success("imported %d order(s), %d item(s), %d station record(s)", stats.Orders, stats.Items, stats.Stations)
			if noProgress {
				return nil
			}

			orderIDs := make([]string, 0, len(doc.Orders))
			for _, o := range doc.Orders {
				orderIDs = append(orderIDs, o.ID)
				for _, it := range o.Items {
					if _, err := app.Engine.Progress(ctx, it.ID, ""); err != nil {
						return app.fail(fmt.Errorf("progress %s: %w", it.ID, err))
					}
				}
			}
			statuses, err := app.Rollup.RecomputeAll(ctx, orderIDs...)
			if err != nil {
				return app.fail(err)
			}
			for _, id := range orderIDs {
				app.Printer.OrderStatus(id, statuses[id])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "skip seeding and roll-up after import")
	return cmd
}

func newExportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export [order-sheet.yaml]",
		Short: "Export every order with its station chains",
		Long: `Write every order, item, station record and timeline entry as a YAML
order sheet. Without a path the sheet is written to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := fixture.Export(cmd.Context(), app.Store)
			if err != nil {
				return app.fail(err)
			}
			if len(args) == 0 {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(doc); err != nil {
					return app.fail(err)
				}
				if err := enc.Close(); err != nil {
					return app.fail(err)
				}
				return nil
			}
			if err := fixture.WriteFile(args[0], doc); err != nil {
				return app.fail(err)
			}
			app.Printer.Success("exported %d order(s) to %s", len(doc.Orders), args[0])
			return nil
		},
	}
}

func newShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [item-id]",
		Short: "Show orders, or one item's stations and timeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				orders, err := app.Store.ListOrders(ctx)
				if err != nil {
					return app.fail(err)
				}
				app.Printer.Orders(orders)
				return nil
			}

			item, err := app.Store.GetItem(ctx, args[0])
			if err != nil {
				return app.fail(fmt.Errorf("item %s: %w", args[0], err))
			}
			records, err := app.Store.FindAllStations(ctx, item.ID)
			if err != nil {
				return app.fail(err)
			}
			timeline, err := app.Store.ListTimeline(ctx, item.ID)
			if err != nil {
				return app.fail(err)
			}

			app.Printer.Item(*item)
			app.Printer.Stations(records)
			if app.Router != nil {
				last := -1
				for _, rec := range records {
					last = max(last, rec.Order)
				}
				steps, err := app.Router.Remaining(ctx, item.WorkflowID, last)
				switch {
				case err == nil:
					app.Printer.Remaining(steps)
				case errors.Is(err, router.ErrUnknownWorkflow):
					app.Printer.Failure("%v", err)
				}
			}
			app.Printer.Timeline(timeline)
			return nil
		},
	}
}

func newPublishCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <item-id> [item-id...]",
		Short: "Mark item reports published and roll up their orders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var orderIDs []string
			for _, itemID := range args {
				if err := app.Store.PublishReport(ctx, itemID); err != nil {
					return app.fail(fmt.Errorf("publish %s: %w", itemID, err))
				}
				item, err := app.Store.GetItem(ctx, itemID)
				if err != nil {
					return app.fail(err)
				}
				app.Printer.Success("%s: report published", itemID)
				if !slices.Contains(orderIDs, item.OrderID) {
					orderIDs = append(orderIDs, item.OrderID)
				}
			}
			for _, orderID := range orderIDs {
				st, err := app.Rollup.Recompute(ctx, orderID)
				if err != nil {
					return app.fail(err)
				}
				app.Printer.OrderStatus(orderID, st)
			}
			return nil
		},
	}
}

func newRecomputeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute [order-id...]",
		Short: "Recompute order statuses",
		Long:  `Recompute the status of the given orders, or of every order when none is named.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			orderIDs := args
			if len(orderIDs) == 0 {
				orders, err := app.Store.ListOrders(ctx)
				if err != nil {
					return app.fail(err)
				}
				for _, o := range orders {
					orderIDs = append(orderIDs, o.ID)
				}
			}
			statuses, err := app.Rollup.RecomputeAll(ctx, orderIDs...)
			if err != nil {
				return app.fail(err)
			}
			for _, id := range orderIDs {
				app.Printer.OrderStatus(id, statuses[id])
			}
			return nil
		},
	}
}

func newNotifyTestCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification to the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Notifier.TestNotification(cmd.Context()); err != nil {
				return app.fail(err)
			}
			app.Printer.Success("test notification sent")
			return nil
		},
	}
}
