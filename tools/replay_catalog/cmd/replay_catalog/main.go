package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"arenareplay/engine/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	dbPath := flag.String("db", "", "optional SQLite index to refresh with the listed bundles")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *dbPath != "" {
		index, err := replaycatalog.OpenIndex(*dbPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		err = index.Sync(context.Background(), entries)
		index.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		state := "complete"
		if !entry.Manifest.Complete {
			state = "in progress"
		}
		fmt.Printf("%s (%s, %s)\n", entry.Dir, entry.Manifest.GameID, state)
		fmt.Printf("  created: %s\n", entry.Manifest.CreatedAt)
		fmt.Printf("  events: %d rounds: %d\n", entry.Manifest.Events, entry.Rounds())
		for i, m := range entry.Manifest.Matches {
			fmt.Printf("  match %d: %s, %d rounds", i, m.MapName, m.Rounds)
			if m.Finished {
				fmt.Printf(", winner %d", m.Winner)
			}
			fmt.Println()
		}
		if entry.Header != nil {
			fmt.Printf("  spec %s, winner %d\n", entry.Header.SpecVersion, entry.Header.Winner)
		}
	}
}
