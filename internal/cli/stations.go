package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// transitionFlags are shared by complete and reject.
type transitionFlags struct {
	params  []string
	details string
	user    string
}

func (f *transitionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "captured value as name=value (repeatable)")
	cmd.Flags().StringVarP(&f.details, "details", "d", "", "free-text details recorded on the station")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "acting user id")
}

// parseParams turns name=value pairs into a parameter map. Later pairs win.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", pair)
		}
		params[name] = value
	}
	return params, nil
}

func newProgressCommand(app *App) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "progress <item-id> [item-id...]",
		Short: "Advance items to their next station",
		Long: `Advance each item to the station after its last finished one.

Items without a station record are seeded at their first station. Items that
are not eligible (order not processing, report attached, no active specimen,
or a station already active) are left unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			for _, itemID := range args {
				rec, err := app.Engine.Progress(ctx, itemID, user)
				if err != nil {
					return app.fail(fmt.Errorf("progress %s: %w", itemID, err))
				}
				if rec == nil {
					app.Printer.Info("%s: no change", itemID)
					continue
				}
				app.Printer.Success("%s: %s at %s (%s)", itemID, rec.Status, orSection(rec.SectionName, rec.SectionID), rec.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "acting user id")
	return cmd
}

func newCompleteCommand(app *App) *cobra.Command {
	var flags transitionFlags
	cmd := &cobra.Command{
		Use:   "complete <record-id>",
		Short: "Finish a processing station and advance the item",
		Long: `Finish the processing station record and create the next one.

Captured values are merged over the values already on the record and must
satisfy the section schema, including required fields.

Example:
  labflow complete 3f2a... -p wbc=6.8 -d "within range" -u tech-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(flags.params)
			if err != nil {
				return app.fail(err)
			}
			res, err := app.Engine.Complete(cmd.Context(), args[0], params, flags.details, flags.user)
			if err != nil {
				return app.fail(err)
			}
			app.Printer.Transition(res.Record, res.Next)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRejectCommand(app *App) *cobra.Command {
	var (
		flags   transitionFlags
		reroute int
	)
	cmd := &cobra.Command{
		Use:   "reject <record-id>",
		Short: "Reject a processing station",
		Long: `Reject the processing station record.

With --reroute the item continues at the section with that order. Without it
the item's workflow ends and its specimen is deactivated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(flags.params)
			if err != nil {
				return app.fail(err)
			}
			var order *int
			if cmd.Flags().Changed("reroute") {
				order = &reroute
			}
			res, err := app.Engine.Reject(cmd.Context(), args[0], params, flags.details, flags.user, order)
			if err != nil {
				return app.fail(err)
			}
			app.Printer.Transition(res.Record, res.Next)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&reroute, "reroute", 0, "order of the section the item continues at")
	return cmd
}

func orSection(name, id string) string {
	if name == "" {
		return id
	}
	return name
}
