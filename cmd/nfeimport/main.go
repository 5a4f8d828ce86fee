package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nfeimport/internal/config"
	"nfeimport/internal/pipeline"
	"nfeimport/internal/watch"
)

func main() {
	configPath := os.Getenv("NFE_CONFIG")
	if configPath == "" {
		configPath = "settings.yaml"
	}
	cfg, err := config.Load(configPath)
	must(err)
	must(cfg.EnsureDirs())

	logger := config.SetupLogger(cfg.Logging)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	proc := pipeline.NewProcessor(cfg, nil, logger)

	cmd := os.Args[1]
	switch cmd {
	case "process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "override input folder")
		user := fs.String("user", "", "who requested the run")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) != "" {
			cfg.Paths.InputDir = *input
		}
		summary, err := proc.ProcessDirectory("cli", *user)
		must(err)
		fmt.Printf("run %s done: invoices=%d matched=%d unmatched=%d\n",
			summary.RunID, len(summary.Invoices), len(summary.Matched), len(summary.Unmatched))
		if summary.CSVPath != "" {
			fmt.Printf("csv: %s\n", summary.CSVPath)
		}
		if summary.PendingsPath != "" {
			fmt.Printf("pendings: %s\n", summary.PendingsPath)
		}
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		svc := watch.NewService(proc, cfg, logger)
		must(svc.Run(ctx))
	case "runs:list":
		runs, err := proc.ListRuns()
		must(err)
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return
		}
		for _, r := range runs {
			fmt.Printf("%s mode=%s invoices=%d matched=%d unmatched=%d\n",
				r.RunID, r.Mode, r.Invoices, r.Matched, r.Unmatched)
		}
	case "runs:show":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "run id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*id) == "" {
			must(fmt.Errorf("--id is required"))
		}
		record, err := proc.LoadRun(*id)
		must(err)
		fmt.Printf("run %s at %s mode=%s user=%s\n", record.RunID, record.CreatedAt, record.Mode, record.User)
		fmt.Printf("matched=%d unmatched=%d csv=%s\n", record.Matched, record.Unmatched, record.CSVPath)
		for _, inv := range record.PerInvoice {
			fmt.Printf("  %s supplier=%s items=%d\n", inv.InvoiceNumber, inv.Supplier, inv.Items)
		}
	case "match:register":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		sku := fs.String("sku", "", "catalogue SKU to register")
		cprod := fs.String("cprod", "", "supplier product code")
		barcode := fs.String("barcode", "", "item barcode")
		description := fs.String("description", "", "item description")
		invoiceKey := fs.String("invoice-key", "", "invoice access key")
		item := fs.Int("item", 0, "item number within the invoice")
		user := fs.String("user", "", "who confirmed the match")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*sku) == "" {
			must(fmt.Errorf("--sku is required"))
		}
		must(proc.RegisterManualMatch(*sku, *cprod, *barcode, *description, *invoiceKey, *item, *user))
		fmt.Printf("registered synonym for sku=%s\n", *sku)
	case "catalog:check":
		count, err := proc.ReloadCatalog()
		must(err)
		fmt.Printf("catalogue ok: %d products\n", count)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: nfeimport <command>")
	fmt.Println("commands:")
	fmt.Println("  process [--input=DIR] [--user=NAME]")
	fmt.Println("  watch")
	fmt.Println("  runs:list")
	fmt.Println("  runs:show --id=RUNID")
	fmt.Println("  match:register --sku=SKU [--cprod=... --barcode=... --description=...] [--invoice-key=... --item=N] [--user=NAME]")
	fmt.Println("  catalog:check")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
