package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/expertloop/expertloop/internal/adapter/postgres"
	"github.com/expertloop/expertloop/internal/config"
	"github.com/expertloop/expertloop/internal/domain/expert"
	"github.com/expertloop/expertloop/internal/service"
)

// runAdmin dispatches admin subcommands (create-expert, list-experts,
// enable-expert, disable-expert).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-expert":
		return runAdminCreateExpert(args[1:])
	case "list-experts":
		return runAdminListExperts(args[1:])
	case "enable-expert":
		return runAdminSetEnabled(args[1:], true)
	case "disable-expert":
		return runAdminSetEnabled(args[1:], false)
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: expertloop admin <command> [options]

Commands:
  create-expert    Register a reviewer and print their API key
  list-experts     List all registered experts
  enable-expert    Re-enable a disabled expert
  disable-expert   Stop routing reviews to an expert
  help             Show this help message

Examples:
  expertloop admin create-expert --name "Dr. Rao" --tier 0 --channel-id 919900112233
  expertloop admin create-expert --name "Senior Panel" --tier 1 --channel-id 919900112244
  expertloop admin list-experts
  expertloop admin disable-expert --id 6f1c…
`)
}

func loadAdminDeps() (*service.AuthService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	authSvc := service.NewAuthService(store, cfg.Auth.BcryptCost, slog.Default())

	cleanup := func() {
		pool.Close()
	}
	return authSvc, cleanup, nil
}

func runAdminCreateExpert(args []string) error {
	fs := flag.NewFlagSet("create-expert", flag.ContinueOnError)
	name := fs.String("name", "", "expert display name (required)")
	tier := fs.Int("tier", 0, "escalation tier, 0 receives fresh reviews")
	channelID := fs.String("channel-id", "", "expert's id on the chat channel (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *channelID == "" {
		return fmt.Errorf("--channel-id is required")
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	exp, apiKey, err := authSvc.CreateExpert(ctx, expert.CreateRequest{
		Name:      *name,
		Tier:      *tier,
		ChannelID: *channelID,
	})
	if err != nil {
		return fmt.Errorf("create expert: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Expert created: %s (id=%s, tier=%d)\n", exp.Name, exp.ID, exp.Tier)
	// The key is derivable only here; the store keeps a hash.
	fmt.Fprintf(os.Stderr, "API key (shown once): %s\n", apiKey)
	return nil
}

func runAdminListExperts(args []string) error {
	fs := flag.NewFlagSet("list-experts", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	experts, err := authSvc.ListExperts(ctx)
	if err != nil {
		return fmt.Errorf("list experts: %w", err)
	}

	if len(experts) == 0 {
		fmt.Println("No experts found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTIER\tCHANNEL_ID\tENABLED")
	for i := range experts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n",
			experts[i].ID, experts[i].Name, experts[i].Tier, experts[i].ChannelID, experts[i].Enabled)
	}
	return w.Flush()
}

func runAdminSetEnabled(args []string, enabled bool) error {
	name := "disable-expert"
	if enabled {
		name = "enable-expert"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.String("id", "", "expert id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if err := authSvc.SetExpertEnabled(ctx, *id, enabled); err != nil {
		return fmt.Errorf("update expert: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Expert %s enabled=%t\n", *id, enabled)
	return nil
}
