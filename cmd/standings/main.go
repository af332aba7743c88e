// Command standings prints the leaderboard derived from published match
// records.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"codeclash/internal/leaderboard"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "Redis address")
	password := flag.String("password", "", "Redis password")
	db := flag.Int("db", 0, "Redis database")
	namespace := flag.String("namespace", "codeclash", "Record key namespace")
	timeout := flag.Duration("timeout", 10*time.Second, "Operation timeout")
	flag.Parse()

	store, err := leaderboard.NewStore(leaderboard.RedisConfig{
		Addr:      *addr,
		Password:  *password,
		DB:        *db,
		Namespace: *namespace,
		OpTimeout: *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	standings, err := store.Standings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load standings failed: %v\n", err)
		os.Exit(1)
	}
	if standings.Matches == 0 {
		fmt.Println("no match records published yet")
		return
	}

	fmt.Printf("standings over %d matches\n\n", standings.Matches)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tWINS\tROUNDS\tWIN RATE\tMATCHES")
	for _, wr := range standings.WinRates {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.3f\t%d\n", wr.Player, wr.Wins, wr.Rounds, wr.Rate, wr.Matches)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PLAYER\tELO")
	for _, entry := range standings.Elo {
		fmt.Fprintf(w, "%s\t%.1f\n", entry.Player, entry.Rating)
	}
	_ = w.Flush()
}
