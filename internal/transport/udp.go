// Package transport provides the out-of-core collaborator a Replica
// talks to (spec.md §6): a UDP datagram client dialing the shared
// transport port every replica and client in the cluster demultiplexes
// through by destination id.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cohodb/raftkv/raft"
	"github.com/cohodb/raftkv/wire"
)

// maxDatagram is the safe upper bound on a single envelope's wire size
// (spec.md §6: "Maximum datagram payload is bounded (65 KiB is a safe
// upper bound)").
const maxDatagram = 65 * 1024

// UDPClient is a thin socket wrapper: one ephemeral local UDP socket,
// dialed at the shared bridge port (spec.md §6: "the transport
// multiplexes all replicas and clients through that port by
// destination-id demultiplexing"). It has no notion of peers beyond the
// envelope's own src/dst fields — the bridge on the other end of the
// socket does all addressing.
type UDPClient struct {
	conn *net.UDPConn
}

// Dial opens a socket to the shared transport port on localhost.
func Dial(port uint16) (*UDPClient, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bridge address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial bridge: %w", err)
	}
	return &UDPClient{conn: conn}, nil
}

// Send encodes and writes a single envelope.
func (c *UDPClient) Send(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Recv blocks for at most timeout waiting for a single datagram, decodes
// it, and returns it. It returns raft.ErrPollTimeout itself (so errors.Is
// matches) when the deadline elapses with nothing to read — the caller's
// event loop treats that as "nothing happened this tick" and moves on to
// its timers (spec.md §5).
func (c *UDPClient) Recv(timeout time.Duration) (wire.Envelope, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return wire.Envelope{}, fmt.Errorf("transport: set read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return wire.Envelope{}, raft.ErrPollTimeout
		}
		return wire.Envelope{}, fmt.Errorf("transport: read: %w", err)
	}

	env, err := wire.Decode(buf[:n])
	if err != nil {
		// A malformed datagram is dropped, not fatal (spec.md §7); the
		// caller sees it as a generic error and logs it, advancing no
		// protocol state.
		return wire.Envelope{}, fmt.Errorf("transport: %w", err)
	}
	return env, nil
}

// Close releases the underlying socket.
func (c *UDPClient) Close() error {
	return c.conn.Close()
}
