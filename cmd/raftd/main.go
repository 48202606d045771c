// Command raftd runs a single Raft replica process: `raftd <port> <self_id>
// <peer_id>...` (spec.md §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cohodb/raftkv/internal/logging"
	"github.com/cohodb/raftkv/internal/transport"
	"github.com/cohodb/raftkv/raft"
	"github.com/cohodb/raftkv/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	var heartbeat time.Duration
	var electionMin, electionMax time.Duration
	var candidateMin, candidateMax time.Duration

	cmd := &cobra.Command{
		Use:   "raftd <port> <self_id> <peer_id>...",
		Short: "run one replica of a Raft-replicated key-value store",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return fmt.Errorf("raftd: invalid port %q: %w", args[0], err)
			}
			self := args[1]
			peers := args[2:]

			logger := logging.New(verbose).With("replica", self)

			conn, err := transport.Dial(uint16(port))
			if err != nil {
				return fmt.Errorf("raftd: %w", err)
			}
			defer conn.Close()

			cfg := raft.DefaultConfig(self, peers)
			cfg.HeartbeatPeriod = heartbeat
			cfg.ElectionDeadlineMin = electionMin
			cfg.ElectionDeadlineMax = electionMax
			cfg.CandidateDeadlineMin = candidateMin
			cfg.CandidateDeadlineMax = candidateMax

			replica := raft.New(cfg, conn, store.New(), logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = replica.Run(ctx)
			if err == context.Canceled {
				logger.Infow("shutting down")
				return nil
			}
			return err
		},
	}

	defaults := raft.DefaultConfig("", nil)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "set the log level to debug")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat-period", defaults.HeartbeatPeriod, "leader heartbeat interval")
	cmd.Flags().DurationVar(&electionMin, "election-deadline-min", defaults.ElectionDeadlineMin, "lower bound of the randomized election timeout band")
	cmd.Flags().DurationVar(&electionMax, "election-deadline-max", defaults.ElectionDeadlineMax, "upper bound of the randomized election timeout band")
	cmd.Flags().DurationVar(&candidateMin, "candidate-deadline-min", defaults.CandidateDeadlineMin, "lower bound of the randomized candidate restart band")
	cmd.Flags().DurationVar(&candidateMax, "candidate-deadline-max", defaults.CandidateDeadlineMax, "upper bound of the randomized candidate restart band")

	return cmd
}
