package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/policy"
	"github.com/iotdash/iotdash/internal/ratelimit"
)

func newLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Manage purchased rate limits",
		Long: `Manage purchased per-requester rate limits. Changes are written to the
directory database and, when redis.addr is set, pushed into the shared
override cache so running servers apply them immediately.`,
	}

	cmd.AddCommand(newLimitSetCmd())
	cmd.AddCommand(newLimitListCmd())
	cmd.AddCommand(newLimitDeleteCmd())

	return cmd
}

// limitEnv is the state shared by the limit subcommands.
type limitEnv struct {
	store     *config.Store
	routes    *policy.RouteTable
	overrides *ratelimit.OverrideLookup
	closers   []func() error
}

func openLimitEnv(ctx context.Context, withCache bool) (*limitEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tables, err := loadTables(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open directory store: %w", err)
	}
	env := &limitEnv{store: store, routes: tables.Routes, closers: []func() error{store.Close}}

	if withCache && cfg.Redis.Addr != "" {
		counters, err := openCounters(ctx, cfg, cliLogger())
		if err != nil {
			env.close()
			return nil, err
		}
		env.overrides = ratelimit.NewOverrideLookup(counters, store, cliLogger())
		env.closers = append(env.closers, counters.Close)
	}
	return env, nil
}

func (e *limitEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// rule resolves a route key or path template to its rule.
func (e *limitEnv) rule(route, method string) (policy.Rule, error) {
	r, ok := e.routes.Lookup(route, method)
	if !ok {
		return policy.Rule{}, fmt.Errorf("no %s rule for route %q (see 'iotdash routes list')", method, route)
	}
	return r, nil
}

// ---------- limit set ----------

func newLimitSetCmd() *cobra.Command {
	var (
		requester string
		route     string
		method    string
		limit     int64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace a purchased limit",
		Example: `  iotdash limit set --requester <account-id> --route '/api/accounts/:accountId/data/:deviceId' --method POST --limit 7200
  iotdash limit set --requester <account-id> --route '/api/accounts/.*/rules/.*' --method PUT --limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			ctx := context.Background()
			env, err := openLimitEnv(ctx, true)
			if err != nil {
				return err
			}
			defer env.close()

			r, err := env.rule(route, method)
			if err != nil {
				return err
			}
			l := &model.PurchasedLimit{Requester: requester, Route: r.RouteKey(), Method: r.Method, Limit: limit}
			if err := env.store.SetPurchasedLimit(ctx, l); err != nil {
				return err
			}
			if env.overrides != nil {
				env.overrides.Set(ctx, l.Requester, l.Route, l.Method, l.Limit)
			}
			fmt.Printf("Set %s %s for %s to %d\n", l.Method, l.Route, l.Requester, l.Limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "Account or user id (required)")
	cmd.Flags().StringVar(&route, "route", "", "Route key or path template (required)")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cmd.Flags().Int64Var(&limit, "limit", 0, "Requests per window (required)")
	cmd.MarkFlagRequired("requester")
	cmd.MarkFlagRequired("route")
	cmd.MarkFlagRequired("limit")

	return cmd
}

// ---------- limit list ----------

func newLimitListCmd() *cobra.Command {
	var (
		requester  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List purchased limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openLimitEnv(context.Background(), false)
			if err != nil {
				return err
			}
			defer env.close()

			limits, err := env.store.ListPurchasedLimits(context.Background(), requester)
			if err != nil {
				return err
			}
			if jsonOutput {
				if limits == nil {
					limits = []model.PurchasedLimit{}
				}
				return printJSON(limits)
			}
			if len(limits) == 0 {
				fmt.Println("No purchased limits.")
				return nil
			}
			fmt.Printf("%-36s %-7s %-40s %s\n", "REQUESTER", "METHOD", "ROUTE", "LIMIT")
			for _, l := range limits {
				fmt.Printf("%-36s %-7s %-40s %d\n", l.Requester, l.Method, l.Route, l.Limit)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "Only show limits for this account or user id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- limit delete ----------

func newLimitDeleteCmd() *cobra.Command {
	var (
		requester string
		route     string
		method    string
	)

	cmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Short:   "Remove a purchased limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			env, err := openLimitEnv(ctx, true)
			if err != nil {
				return err
			}
			defer env.close()

			r, err := env.rule(route, method)
			if err != nil {
				return err
			}
			if err := env.store.DeletePurchasedLimit(ctx, requester, r.RouteKey(), r.Method); err != nil {
				return err
			}
			if env.overrides != nil {
				env.overrides.Forget(ctx, requester, r.RouteKey(), r.Method)
			}
			fmt.Printf("Removed %s %s for %s\n", r.Method, r.RouteKey(), requester)
			return nil
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "Account or user id (required)")
	cmd.Flags().StringVar(&route, "route", "", "Route key or path template (required)")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cmd.MarkFlagRequired("requester")
	cmd.MarkFlagRequired("route")

	return cmd
}
