// Command remittancectl queries and maintains the remittance ledger.
//
//	remittancectl list -org ORG [-product P] [-metric M] [-provider P] [-account A] [-beginning T] [-ending T]
//	remittancectl tally -id TALLY_ID
//	remittancectl reset -product P -start T -end T (-orgs a,b | -accounts x,y)
//	remittancectl delete-org -org ORG
//
// Times are RFC3339.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/billableusage/internal/config"
	"github.com/smallbiznis/billableusage/internal/observability/logger"
	"github.com/smallbiznis/billableusage/internal/remittance"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"github.com/smallbiznis/billableusage/pkg/db"
	"go.uber.org/fx"
)

var errUsage = errors.New("usage: remittancectl list|tally|reset|delete-org [flags]")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, errUsage)
		os.Exit(2)
	}

	var svc remittancedomain.Service
	app := fx.New(
		config.Module,
		fx.Provide(func(cfg config.Config) logger.Config {
			return logger.Config{
				ServiceName: "remittancectl",
				Environment: cfg.Environment,
				Level:       "error",
				Format:      "console",
			}
		}),
		fx.Provide(logger.New),
		db.Module,
		remittance.Module,
		fx.Populate(&svc),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	err := run(ctx, svc, os.Args[1], os.Args[2:], os.Stdout)
	_ = app.Stop(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, svc remittancedomain.Service, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "list":
		var (
			filter            remittancedomain.Filter
			beginning, ending string
		)
		fs.StringVar(&filter.OrgID, "org", "", "organization id")
		fs.StringVar(&filter.ProductID, "product", "", "product id")
		fs.StringVar(&filter.MetricID, "metric", "", "metric id")
		fs.StringVar(&filter.BillingProvider, "provider", "", "billing provider")
		fs.StringVar(&filter.BillingAccountID, "account", "", "billing account id")
		fs.StringVar(&beginning, "beginning", "", "earliest remittance date")
		fs.StringVar(&ending, "ending", "", "latest remittance date")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		var err error
		if filter.Beginning, err = optionalTime(beginning); err != nil {
			return err
		}
		if filter.Ending, err = optionalTime(ending); err != nil {
			return err
		}
		summaries, err := svc.ListRemittances(ctx, filter)
		if err != nil {
			return err
		}
		return printJSON(out, summaries)

	case "tally":
		id := fs.String("id", "", "tally snapshot id")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		rows, err := svc.ListByTallyID(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(out, rows)

	case "reset":
		var (
			req                remittancedomain.ResetRequest
			start, end         string
			orgIDs, accountIDs string
		)
		fs.StringVar(&req.ProductID, "product", "", "product id")
		fs.StringVar(&start, "start", "", "window start, inclusive")
		fs.StringVar(&end, "end", "", "window end, exclusive")
		fs.StringVar(&orgIDs, "orgs", "", "comma separated organization ids")
		fs.StringVar(&accountIDs, "accounts", "", "comma separated billing account ids")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		var err error
		if req.Start, err = requiredTime("start", start); err != nil {
			return err
		}
		if req.End, err = requiredTime("end", end); err != nil {
			return err
		}
		req.OrgIDs = splitList(orgIDs)
		req.BillingAccountIDs = splitList(accountIDs)
		updated, err := svc.ResetRemittedValue(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"updated": updated})

	case "delete-org":
		orgID := fs.String("org", "", "organization id")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		deleted, err := svc.DeleteByOrgID(ctx, *orgID)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"deleted": deleted})
	}
	return errUsage
}

func optionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return &t, nil
}

func requiredTime(name, raw string) (time.Time, error) {
	t, err := optionalTime(raw)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return *t, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
