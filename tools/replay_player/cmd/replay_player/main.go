package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"arenareplay/engine/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay directory or manifest.json")
	round := flag.Int("round", -1, "Round to reconstruct; negative selects the final round")
	remote := flag.String("remote", "", "Address of a running replay service to query instead")
	secret := flag.String("secret", "", "Shared secret for the remote service")
	flag.Parse()

	var payload any
	switch {
	case *remote != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		summary, err := replayplayer.Remote(ctx, *remote, *secret)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		payload = summary
	case *path != "":
		report, err := replayplayer.Inspect(*path, int32(*round))
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		payload = report
	default:
		fmt.Fprintln(os.Stderr, "path or remote flag is required")
		os.Exit(1)
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
