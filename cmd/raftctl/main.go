// Command raftctl is a convenience client for a running Raft cluster: it
// speaks the same UDP/JSON wire protocol as the replicas (spec.md §6),
// following leader redirects until a request succeeds.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cohodb/raftkv/internal/transport"
	"github.com/cohodb/raftkv/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port uint16
	var selfID string
	var timeout time.Duration

	root := &cobra.Command{Use: "raftctl"}
	root.PersistentFlags().Uint16VarP(&port, "port", "p", 9000, "shared transport port")
	root.PersistentFlags().StringVar(&selfID, "id", "", "this client's id on the wire (random if unset)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second, "per-attempt response timeout")

	root.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "read a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(port, selfID, timeout)
			if err != nil {
				return err
			}
			defer c.Close()
			value, err := c.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "put <key> <value>",
		Short: "write a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(port, selfID, timeout)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Put(args[0], args[1])
		},
	})

	return root
}

// client is a minimal leader-following retry loop, the role the
// teacher's Clerk plays for its net/rpc-based cluster: keep reissuing
// the same request at a different believed leader until one of them
// answers with ok rather than a redirect.
type client struct {
	conn *transport.UDPClient
	self string
	to   time.Duration
}

func newClient(port uint16, self string, timeout time.Duration) (*client, error) {
	conn, err := transport.Dial(port)
	if err != nil {
		return nil, err
	}
	if self == "" {
		self = uuid.NewString()
	}
	if err := conn.Send(wire.Envelope{Src: self, Dst: wire.BroadcastID, Leader: wire.BroadcastID, Type: wire.TypeHello}); err != nil {
		return nil, err
	}
	return &client{conn: conn, self: self, to: timeout}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) Get(key string) (string, error) {
	env, err := c.roundTrip(wire.Envelope{Type: wire.TypeGet, Key: key})
	if err != nil {
		return "", err
	}
	return env.ValueOrEmpty(), nil
}

func (c *client) Put(key, value string) error {
	_, err := c.roundTrip(wire.Envelope{Type: wire.TypePut, Key: key, Value: value})
	return err
}

// roundTrip sends req to the cluster broadcast address and follows
// redirects until it sees ok or fail, or runs out of retries.
func (c *client) roundTrip(req wire.Envelope) (wire.Envelope, error) {
	dst := wire.BroadcastID
	const maxAttempts = 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		mid := uuid.NewString()
		req.Src, req.Dst, req.MID = c.self, dst, mid
		if err := c.conn.Send(req); err != nil {
			return wire.Envelope{}, fmt.Errorf("raftctl: send: %w", err)
		}

		resp, err := c.awaitReply(mid)
		if err != nil {
			// No answer in time; retry against the broadcast address in
			// case the replica we hit was down or not the leader.
			dst = wire.BroadcastID
			continue
		}

		switch resp.Type {
		case wire.TypeOK:
			return resp, nil
		case wire.TypeFail:
			return wire.Envelope{}, fmt.Errorf("raftctl: request failed")
		case wire.TypeRedirect:
			dst = resp.Leader
			if dst == "" || dst == wire.BroadcastID {
				dst = wire.BroadcastID
			}
		}
	}
	return wire.Envelope{}, fmt.Errorf("raftctl: no leader answered after %d attempts", maxAttempts)
}

func (c *client) awaitReply(mid string) (wire.Envelope, error) {
	deadline := time.Now().Add(c.to)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Envelope{}, fmt.Errorf("raftctl: timed out waiting for MID %s", mid)
		}
		env, err := c.conn.Recv(remaining)
		if err != nil {
			return wire.Envelope{}, err
		}
		if env.MID == mid {
			return env, nil
		}
		// Stray reply to an earlier, abandoned attempt; keep waiting.
	}
}
