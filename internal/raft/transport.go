package raft

import (
	"context"
	"encoding/json"
	"net"

	"github.com/rs/zerolog"
)

// SelfHandshake is supplied by cmd/server: a closure reading the
// node's current identity/term so every new connection (dialed or
// accepted) announces up-to-date state, not whatever it had at boot.
type SelfHandshake func() handshakeMsg

// NewSelfHandshake builds the closure from the live ReplicationState.
func NewSelfHandshake(state *ReplicationState) SelfHandshake {
	return func() handshakeMsg {
		return handshakeMsg{
			ID:     state.SelfID,
			ReplID: state.ReplID,
			Role:   state.Role,
			Term:   state.CurrentTerm(),
		}
	}
}

// TCPConnector is the concrete OutboundConnector: it dials a peer
// address, exchanges one handshake frame in each direction, and wires
// up the reader/writer goroutines a PeerHandle needs. PeerIdentifier
// doubles as dial address ("host:port"), per identity.go.
type TCPConnector struct {
	handler ClusterCommandHandler
	self    SelfHandshake
	log     zerolog.Logger
}

func NewTCPConnector(handler ClusterCommandHandler, self SelfHandshake, log zerolog.Logger) *TCPConnector {
	return &TCPConnector{handler: handler, self: self, log: log}
}

func (c *TCPConnector) Connect(ctx context.Context, addr string) (*Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return establishPeer(ctx, conn, c.self(), c.handler, c.log)
}

// RunInboundListener accepts peer connections the other direction:
// whichever side didn't dial (see gossip.go's "only the
// lexicographically smaller id connects" rule) still needs its half
// of the same bidirectional link registered as a Peer.
func RunInboundListener(ctx context.Context, addr string, self SelfHandshake, handler ClusterCommandHandler, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Info().Str("addr", addr).Msg("peer listener accepting")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn().Err(err).Msg("peer accept failed")
				continue
			}
		}
		go func() {
			peer, err := establishPeer(ctx, conn, self(), handler, log)
			if err != nil {
				log.Warn().Err(err).Msg("inbound peer handshake failed")
				return
			}
			if err := handler.Send(ctx, AddPeer{Peer: peer}); err != nil {
				log.Warn().Err(err).Msg("failed to enqueue inbound peer")
			}
		}()
	}
}

// establishPeer runs the one-frame-each-way handshake and spawns the
// read/write goroutines backing the returned Peer's handle. Both
// TCPConnector.Connect and RunInboundListener funnel through here so
// a connection behaves identically regardless of which side dialed.
func establishPeer(ctx context.Context, conn net.Conn, self handshakeMsg, handler ClusterCommandHandler, log zerolog.Logger) (*Peer, error) {
	enc := json.NewEncoder(conn)
	if err := enc.Encode(self); err != nil {
		conn.Close()
		return nil, err
	}
	dec := json.NewDecoder(conn)
	var remote handshakeMsg
	if err := dec.Decode(&remote); err != nil {
		conn.Close()
		return nil, err
	}

	handle := NewPeerHandle(ctx, 32, log)
	peer := NewPeer(PeerState{ID: remote.ID, Role: remote.Role, ReplID: remote.ReplID, Term: remote.Term}, handle)

	// ackCh carries synchronous RPC replies (AppendEntries/RequestVote)
	// built by decodeFrame's respond closures; it shares the single
	// outbound encoder with handle.SendCh() so only one goroutine ever
	// writes to conn.
	ackCh := make(chan wireFrame, 32)
	go peerWriteLoop(conn, handle, ackCh, log)
	go peerReadLoop(conn, dec, remote.ID, ackCh, handler, log)
	return peer, nil
}

func peerWriteLoop(conn net.Conn, handle *PeerHandle, ackCh chan wireFrame, log zerolog.Logger) {
	enc := json.NewEncoder(conn)
	defer conn.Close()
	defer handle.MarkDone()
	for {
		select {
		case <-handle.Context().Done():
			return
		case frame := <-ackCh:
			if err := enc.Encode(frame); err != nil {
				log.Warn().Err(err).Msg("peer write failed, closing connection")
				return
			}
		case msg, ok := <-handle.SendCh():
			if !ok {
				return
			}
			frame, err := encodeOutbound(msg)
			if err != nil {
				log.Warn().Err(err).Msg("could not encode outbound peer message")
				continue
			}
			if err := enc.Encode(frame); err != nil {
				log.Warn().Err(err).Msg("peer write failed, closing connection")
				return
			}
		}
	}
}

func peerReadLoop(conn net.Conn, dec *json.Decoder, peerID PeerIdentifier, ackCh chan wireFrame, handler ClusterCommandHandler, log zerolog.Logger) {
	respond := func(f wireFrame) {
		select {
		case ackCh <- f:
		default:
			log.Warn().Str("peer", string(peerID)).Msg("rpc reply buffer full, dropping")
		}
	}
	for {
		var f wireFrame
		if err := dec.Decode(&f); err != nil {
			log.Info().Str("peer", string(peerID)).Err(err).Msg("peer connection closed")
			return
		}
		cmd, err := decodeFrame(f, peerID, respond)
		if err != nil {
			log.Warn().Str("peer", string(peerID)).Err(err).Msg("failed to decode peer frame")
			continue
		}
		if err := handler.Send(context.Background(), cmd); err != nil {
			log.Warn().Str("peer", string(peerID)).Err(err).Msg("failed to enqueue command from peer")
			return
		}
	}
}
