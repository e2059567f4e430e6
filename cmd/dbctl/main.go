// dbctl is an operator probe for the database daemon: it dials the link
// the same way the gateway does and issues a single correlated call.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mwyndham/gatewire/internal/dblink"
	"github.com/mwyndham/gatewire/internal/logging"
)

func main() {
	addr := flag.String("addr", "localhost:7173", "database daemon address")
	op := flag.String("op", "ping", "operation: ping|load|save")
	account := flag.String("account", "", "account name for load/save")
	data := flag.String("data", "", "blob for save")
	timeout := flag.Duration("timeout", 5*time.Second, "overall probe timeout")
	flag.Parse()

	logging.ConfigureRuntime()
	client, err := dblink.NewClient(dblink.Config{
		Addr:               *addr,
		CallTimeout:        *timeout,
		MaxConnectAttempts: 1,
	}, logging.New("dbctl"))
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	go func() {
		_ = client.Run(ctx)
	}()
	if err := waitConnected(ctx, client); err != nil {
		fatal(err)
	}

	start := time.Now()
	switch *op {
	case "ping":
		if err := client.Ping(ctx); err != nil {
			fatal(err)
		}
		fmt.Printf("ping ok in %s\n", time.Since(start).Round(time.Microsecond))
	case "load":
		requireAccount(*account)
		blob, err := client.LoadAccount(ctx, *account)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("loaded %d bytes for %q:\n%s", len(blob), *account, hex.Dump(blob))
	case "save":
		requireAccount(*account)
		if err := client.SaveAccount(ctx, *account, []byte(*data)); err != nil {
			fatal(err)
		}
		fmt.Printf("saved %d bytes for %q\n", len(*data), *account)
	default:
		fatal(fmt.Errorf("unknown op %q", *op))
	}
}

func waitConnected(ctx context.Context, client *dblink.Client) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !client.Connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func requireAccount(account string) {
	if account == "" {
		fatal(fmt.Errorf("-account is required"))
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "dbctl: %v\n", err)
	os.Exit(1)
}
