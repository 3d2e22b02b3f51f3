package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/api"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/cli"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/core"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/events"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/feed"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/log"
)

// publishFunc notifies the mirror about a successful mutation. Best effort:
// a missed event is corrected by the mirror's next resync.
type publishFunc func(ctx context.Context, op events.EventOp, id, budgetID string)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().With(log.FieldComponent, log.ComponentCLI)
	cfg := cli.LoadAndValidateConfig(logger)

	client := api.NewClient(cfg.APIBaseURL, cfg.APIToken)
	controller := feed.NewController(client,
		feed.WithPageSize(cfg.PageSize),
		feed.WithSessionExpiredFunc(func() {
			fmt.Fprintln(os.Stderr, "Your session has expired. Sign in again and update HBP_API_TOKEN.")
		}),
	)

	publish := publishFunc(func(context.Context, events.EventOp, string, string) {})
	if cfg.AMQPURL != "" {
		eventsClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable; mutation events disabled", log.FieldError, err)
		} else {
			defer eventsClient.Close()
			publish = func(ctx context.Context, op events.EventOp, id, budgetID string) {
				event := events.NewTransactionEvent(op, id, budgetID)
				if err := eventsClient.PublishTransactionEvent(ctx, event); err != nil {
					logger.Warn("Failed to publish transaction event",
						log.FieldError, err, log.FieldTransactionID, id)
				}
			}
		}
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "list":
		err = runList(ctx, controller, os.Args[2:])
	case "update":
		err = runUpdate(ctx, controller, publish, os.Args[2:])
	case "delete":
		err = runDelete(ctx, controller, publish, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: hbp <command> [flags]

Commands:
  list     Show the transaction feed of the active budget
  update   Update a transaction
  delete   Delete a transaction

Run 'hbp <command> -h' for command flags.`)
}

func runList(ctx context.Context, controller *feed.Controller, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	page := fs.Int("page", 0, "jump to a specific page instead of page 1")
	all := fs.Bool("all", false, "walk every page of the feed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *page > 0 {
		controller.LoadPage(ctx, *page)
	} else {
		controller.Load(ctx)
	}

	st := controller.Snapshot()
	if st.Err != nil {
		return fmt.Errorf("load transactions: %s", st.Err.Message)
	}

	if *all {
		for st.Meta != nil && st.Meta.HasMore() {
			controller.LoadNextPage(ctx)
			st = controller.Snapshot()
			if st.LoadMoreErr != nil {
				return fmt.Errorf("load more transactions: %s", st.LoadMoreErr.Message)
			}
		}
	}

	if len(st.Rows) == 0 {
		fmt.Println("No transactions.")
		return nil
	}

	printRows(st.Rows)
	if st.Meta != nil {
		if *all {
			fmt.Printf("\n%d transactions\n", st.Meta.TotalItems)
		} else {
			fmt.Printf("\nPage %d of %d (%d transactions)\n", st.Meta.Page, st.Meta.TotalPages, st.Meta.TotalItems)
		}
	}
	return nil
}

func printRows(rows []core.TransactionView) {
	for _, row := range rows {
		note := row.Note
		if note != "" {
			note = "  " + note
		}
		fmt.Printf("%s  %10s  %-24s%s  [%s]\n",
			row.Date.String(),
			row.Amount.DecimalString(),
			row.CategoryName,
			note,
			row.ID,
		)
	}
}

func runUpdate(ctx context.Context, controller *feed.Controller, publish publishFunc, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "transaction id (required)")
	category := fs.String("category", "", "new category id")
	amount := fs.String("amount", "", "new amount, e.g. 12.34")
	date := fs.String("date", "", "new date, e.g. 2026-08-29")
	note := fs.String("note", "", "new note text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("update: -id is required")
	}

	var changes api.TransactionChanges
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["category"] {
		changes.CategoryID = category
	}
	if set["amount"] {
		cents, err := core.ParseDecimalToCents(*amount)
		if err != nil {
			return fmt.Errorf("update: invalid amount %q: %w", *amount, err)
		}
		money := core.Money{Cents: cents}
		changes.Amount = &money
	}
	if set["date"] {
		d, err := core.ParseDate(*date)
		if err != nil {
			return fmt.Errorf("update: invalid date %q: %w", *date, err)
		}
		changes.Date = &d
	}
	if set["note"] {
		changes.Note = note
	}
	if changes.CategoryID == nil && changes.Amount == nil && changes.Date == nil && changes.Note == nil {
		return fmt.Errorf("update: nothing to change")
	}

	// The controller needs the feed loaded to patch its state; for a one
	// shot CLI call the remote mutation alone is what matters.
	updated, err := controller.Update(ctx, *id, changes)
	if err != nil {
		return fmt.Errorf("update transaction: %s", operationMessage(controller))
	}
	publish(ctx, events.OpUpdated, updated.ID, updated.BudgetID)
	fmt.Println(operationMessage(controller))
	return nil
}

func runDelete(ctx context.Context, controller *feed.Controller, publish publishFunc, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "transaction id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("delete: -id is required")
	}

	if err := controller.Delete(ctx, *id); err != nil {
		return fmt.Errorf("delete transaction: %s", operationMessage(controller))
	}
	publish(ctx, events.OpDeleted, *id, "")
	fmt.Println(operationMessage(controller))
	return nil
}

func operationMessage(controller *feed.Controller) string {
	if op := controller.Snapshot().LastOp; op != nil {
		return op.Message
	}
	return "done"
}
