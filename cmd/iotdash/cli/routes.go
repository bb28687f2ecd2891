package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the authorization route table",
	}

	cmd.AddCommand(newRoutesListCmd())
	cmd.AddCommand(newRoutesValidateCmd())

	return cmd
}

// ---------- routes list ----------

func newRoutesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List route rules in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutesList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type routeRow struct {
	Index  int    `json:"index"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Key    string `json:"key"`
	Scope  string `json:"scope"`
	Limit  int64  `json:"limit,omitempty"`
}

func runRoutesList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tables, err := loadTables(cfg)
	if err != nil {
		return err
	}

	rules := tables.Routes.Rules()
	rows := make([]routeRow, 0, len(rules))
	for i, r := range rules {
		rows = append(rows, routeRow{
			Index:  i,
			Method: r.Method,
			Path:   r.Pattern.String(),
			Key:    r.RouteKey(),
			Scope:  r.Scope,
			Limit:  r.Limit,
		})
	}

	if jsonOutput {
		return printJSON(rows)
	}

	fmt.Printf("%-4s %-7s %-52s %-15s %s\n", "#", "METHOD", "PATH", "SCOPE", "LIMIT")
	for _, r := range rows {
		limit := "-"
		if r.Limit > 0 {
			limit = strconv.FormatInt(r.Limit, 10)
		}
		fmt.Printf("%-4d %-7s %-52s %-15s %s\n", r.Index, r.Method, r.Path, r.Scope, limit)
	}
	return nil
}

// ---------- routes validate ----------

func newRoutesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the route and role tables without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tables, err := loadTables(cfg)
			if err != nil {
				return fmt.Errorf("invalid authorization tables:\n%w", err)
			}
			fmt.Printf("OK: %d routes, %d roles\n", tables.Routes.Len(), len(tables.Roles.Roles()))
			return nil
		},
	}
}
