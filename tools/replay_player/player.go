// Package replayplayer reconstructs recorded bundles offline and queries
// running replay services.
package replayplayer

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/match"
	"arenareplay/engine/internal/replay"
	"arenareplay/engine/internal/rpc"
)

// MatchReport describes one match reconstructed at the requested round.
type MatchReport struct {
	Index     int     `json:"index"`
	MapName   string  `json:"map_name"`
	LastRound int32   `json:"last_round"`
	Winner    int32   `json:"winner"`
	Finished  bool    `json:"finished"`
	Round     int32   `json:"round"`
	Bodies    int     `json:"bodies"`
	Digest    string  `json:"digest"`
	Snapshots []int32 `json:"snapshots"`
}

// Report is the offline reconstruction of a bundle.
type Report struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
	Events   int             `json:"events"`
	Phase    string          `json:"phase"`
	Winner   int32           `json:"winner"`
	Matches  []MatchReport   `json:"matches"`
}

// Inspect loads the bundle at path and reconstructs every match at round.
// A negative round selects each match's final round.
func Inspect(path string, round int32) (Report, error) {
	if strings.TrimSpace(path) == "" {
		return Report{}, fmt.Errorf("path is required")
	}
	bundle, err := replay.ReadBundle(path)
	if err != nil {
		return Report{}, err
	}

	session := match.NewSession(match.WithSessionLogger(logging.L()))
	//1.- Complete recordings must form a well-formed game; partial ones replay as far as they go.
	if bundle.Manifest.Complete {
		err = session.LoadBatch(bundle.Events())
	} else {
		err = bundle.Replay(session.Apply)
	}
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", bundle.Dir, err)
	}

	report := Report{
		Dir:      bundle.Dir,
		Manifest: bundle.Manifest,
		Events:   len(bundle.Events()),
		Phase:    session.Phase().String(),
		Winner:   session.Winner(),
	}
	for i := 0; i < session.MatchCount(); i++ {
		m, _ := session.Match(i)
		tl := m.Timeline
		target := round
		if target < 0 {
			target = tl.LastRound()
		}
		//2.- Advance without a budget so the state lands on the target.
		tl.Seek(target)
		if _, err := tl.Advance(0); err != nil {
			return Report{}, fmt.Errorf("match %d: %w", i, err)
		}
		state := tl.Current()
		state.RecomputeIfStale()
		report.Matches = append(report.Matches, MatchReport{
			Index:     i,
			MapName:   m.Map.Name,
			LastRound: tl.LastRound(),
			Winner:    m.Winner,
			Finished:  m.Finished,
			Round:     state.Turn(),
			Bodies:    state.BodyCount(),
			Digest:    state.Digest(),
			Snapshots: tl.SnapshotRounds(),
		})
	}
	return report, nil
}

// Remote fetches the playback summary from a running replay service.
func Remote(ctx context.Context, addr, secret string) (map[string]any, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("remote address is required")
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if secret != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(rpc.SharedSecretCredentials(secret)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return rpc.NewClient(conn).Summary(ctx)
}
