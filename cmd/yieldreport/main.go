// cmd/yieldreport prints the recorded vault snapshots and yield summary for
// one agent, reading the same history store the gateway writes.
//
// Usage:
//
//	go run ./cmd/yieldreport/ --agent 0x<agent> --vault 0x<vault>
//	go run ./cmd/yieldreport/ --store file --file yield-history.json --agent ... --vault ...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/yield"
)

func main() {
	_ = godotenv.Load()

	store := flag.String("store", envOr("YIELD_STORE", "redis"), "History store: redis or file")
	redisAddr := flag.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	file := flag.String("file", envOr("YIELD_HISTORY_FILE", "yield-history.json"), "History file path")
	agentHex := flag.String("agent", "", "Agent address")
	vaultHex := flag.String("vault", os.Getenv("YIELD_VAULT"), "Vault address")
	flag.Parse()

	if !common.IsHexAddress(*agentHex) || !common.IsHexAddress(*vaultHex) {
		fatalf("--agent and --vault must be addresses")
	}

	log := zap.NewNop()
	var hs yield.HistoryStore
	switch *store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
		defer rdb.Close()
		hs = yield.NewRedisHistoryStore(rdb, log)
	case "file":
		hs = yield.NewFileHistoryStore(*file, log)
	default:
		fatalf("--store must be redis or file, got %q", *store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	acc := yield.NewAccountant(hs, yield.DefaultHistoryLimit, log)
	if err := report(ctx, os.Stdout, acc, common.HexToAddress(*agentHex), common.HexToAddress(*vaultHex)); err != nil {
		fatalf("%v", err)
	}
}

// report writes the history table followed by the summary line.
func report(ctx context.Context, out io.Writer, acc *yield.Accountant, agent, vault common.Address) error {
	history, err := acc.History(ctx, agent, vault)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	fmt.Fprintf(out, "agent: %s\nvault: %s\nsnapshots: %d\n\n", agent.Hex(), vault.Hex(), len(history))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tNATIVE\tSTABLE\tSHARES\tUNDERLYING")
	for _, s := range history {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			time.Unix(s.Timestamp, 0).UTC().Format(time.RFC3339), orDash(s.Native), orDash(s.Stable), s.Shares, s.Underlying)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	d, err := acc.Summary(ctx, agent, vault)
	switch {
	case errors.Is(err, yield.ErrInsufficientHistory):
		fmt.Fprintln(out, "\nsummary: not enough snapshots")
		return nil
	case err != nil:
		return fmt.Errorf("summary: %w", err)
	}
	fmt.Fprintf(out, "\nsummary: underlying %+d, shares %+d over %s\n",
		d.DeltaUnderlying, d.DeltaShares, time.Duration(d.DeltaTimeSec)*time.Second)
	return nil
}

func orDash(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
