package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"arenaclash/server/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	winner := flag.String("winner", "", "only list matches won by this team (A or B)")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	entries = replaycatalog.Filter(entries, *winner)

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
		header := entry.Header
		fmt.Printf("%s (schema %d)\n", header.MatchID, header.SchemaVersion)
		winner := header.Winner
		if winner == "" {
			winner = "-"
		}
		fmt.Printf("  winner: %s\n", winner)
		if len(header.Players) > 0 {
			fmt.Printf("  players: %s\n", strings.Join(header.Players, ", "))
		}
		fmt.Printf("  events: %d  frames: %d  tuning: v%d\n", header.Events, header.Frames, header.TuningVersion)
		fmt.Printf("  bundle: %s\n", entry.Bundle())
	}
}
