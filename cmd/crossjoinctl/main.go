package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crossjoin/internal/ledger"
)

const defaultWorkDir = "/work"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	workDir := os.Getenv("WORK_DIR")
	if workDir == "" {
		workDir = defaultWorkDir
	}
	dbPath := filepath.Join(workDir, "crossjoin.db")

	led, err := ledger.Open(ctx, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open ledger: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure WORK_DIR is set correctly (current: %s)\n", workDir)
		os.Exit(1)
	}
	defer func() {
		if err := led.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close ledger: %v\n", err)
		}
	}()

	ok := false
	switch command {
	case "status":
		ok = showStatus(ctx, led)
	case "dead":
		ok = showDead(ctx, led)
	case "retry":
		ok = retry(ctx, led, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", command)
		printUsage()
	}
	if !ok {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: crossjoinctl <command>

Commands:
  status                         Summarize ledger state
  dead                           List dead-lettered items and pairs
  retry item <side> <id>         Reset a dead-lettered item to pending
  retry pair <leftID> <rightID>  Requeue a dead-lettered pair

Environment:
  WORK_DIR  Work directory holding the ledger (default: /work)`)
}

func showStatus(ctx context.Context, led *ledger.Ledger) bool {
	for _, side := range []ledger.Side{ledger.SideLeft, ledger.SideRight} {
		items, err := led.ItemsBySide(ctx, side)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: listing %s items: %v\n", side, err)
			return false
		}
		byStatus := make(map[ledger.ItemStatus]int)
		for _, item := range items {
			byStatus[item.Status]++
		}
		fmt.Printf("%s items: %d total", side, len(items))
		for _, status := range []ledger.ItemStatus{
			ledger.ItemPending, ledger.ItemTransforming, ledger.ItemReady,
			ledger.ItemFailed, ledger.ItemDead,
		} {
			if n := byStatus[status]; n > 0 {
				fmt.Printf(", %d %s", n, status)
			}
		}
		fmt.Println()
	}

	counts, err := led.CountPairs(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: counting pairs: %v\n", err)
		return false
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("pairs: %d total", total)
	for _, state := range []ledger.PairState{
		ledger.PairQueued, ledger.PairRunning, ledger.PairDone,
		ledger.PairFailed, ledger.PairDead,
	} {
		if n := counts[state]; n > 0 {
			fmt.Printf(", %d %s", n, state)
		}
	}
	fmt.Println()
	return true
}

func showDead(ctx context.Context, led *ledger.Ledger) bool {
	items, err := led.DeadLetteredItems(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing dead items: %v\n", err)
		return false
	}
	pairs, err := led.DeadLetteredPairs(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing dead pairs: %v\n", err)
		return false
	}

	if len(items) == 0 && len(pairs) == 0 {
		fmt.Println("dead-letter set is empty")
		return true
	}
	for _, item := range items {
		fmt.Printf("item %s %s  source=%s  attempts=%d\n  reason: %s\n",
			item.Side, item.ID, item.SourcePath, item.Attempts, item.Reason)
	}
	for _, p := range pairs {
		fmt.Printf("pair %s  output=%s  attempts=%d\n  reason: %s\n",
			p.Key(), p.OutputPath, p.Attempts, p.Reason)
	}
	return true
}

func retry(ctx context.Context, led *ledger.Ledger, args []string) bool {
	if len(args) != 3 {
		printUsage()
		return false
	}

	switch args[0] {
	case "item":
		side := ledger.Side(args[1])
		if side != ledger.SideLeft && side != ledger.SideRight {
			fmt.Fprintf(os.Stderr, "Error: side must be %q or %q\n", ledger.SideLeft, ledger.SideRight)
			return false
		}
		id := args[2]
		item, err := led.Item(ctx, id, side)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: looking up item: %v\n", err)
			return false
		}
		if item.Status != ledger.ItemDead {
			fmt.Fprintf(os.Stderr, "Error: item %s/%s is %s, only dead-lettered items can be retried\n",
				side, id, item.Status)
			return false
		}
		if err := led.ResetItem(ctx, id, side, "requeued by operator"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: resetting item: %v\n", err)
			return false
		}
		fmt.Printf("item %s/%s reset to pending\n", side, id)
		return true

	case "pair":
		leftID, rightID := args[1], args[2]
		if err := led.RequeuePair(ctx, leftID, rightID, "requeued by operator"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: requeueing pair: %v\n", err)
			return false
		}
		fmt.Printf("pair %s__%s requeued\n", leftID, rightID)
		return true

	default:
		printUsage()
		return false
	}
}
