package raft

import "encoding/json"

// wireFrame is the newline-delimited JSON envelope used for all
// peer-to-peer traffic. This reuses the ndjson idiom internal/wal
// already uses for on-disk records rather than inventing a second
// encoding for the same module.
type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handshakeMsg is exchanged once, in both directions, immediately
// after a peer TCP connection is established — the minimum a node
// needs to build the other side's PeerState without a full gossip
// round-trip.
type handshakeMsg struct {
	ID     PeerIdentifier `json:"id"`
	ReplID ReplicationId  `json:"replId"`
	Role   Role           `json:"role"`
	Term   uint64         `json:"term"`
}

func encodeFrame(frameType string, payload any) (wireFrame, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return wireFrame{}, err
	}
	return wireFrame{Type: frameType, Payload: b}, nil
}

const (
	frameAppendEntries     = "append_entries"
	frameHeartBeat         = "heartbeat"
	frameRequestVote       = "request_vote"
	frameElectionVote      = "election_vote"
	frameReplicationAck    = "replication_ack"
	frameMigrateBatch      = "migrate_batch"
	frameMigrationBatchAck = "migration_batch_ack"
	frameStartRebalance    = "start_rebalance"
)

// encodeOutbound turns one of the actor's OutboundMessage variants
// into the wire frame an outbound I/O task writes to its connection.
func encodeOutbound(msg OutboundMessage) (wireFrame, error) {
	switch m := msg.(type) {
	case OutboundAppendEntries:
		return encodeFrame(frameAppendEntries, m.HB)
	case OutboundHeartBeat:
		return encodeFrame(frameHeartBeat, m.HB)
	case OutboundRequestVote:
		return encodeFrame(frameRequestVote, m.RV)
	case OutboundElectionVote:
		return encodeFrame(frameElectionVote, m.Vote)
	case OutboundReplicationAck:
		return encodeFrame(frameReplicationAck, m.Ack)
	case OutboundMigrateBatch:
		return encodeFrame(frameMigrateBatch, migrateBatchWire{Batch: m.Batch, Entries: m.Entries})
	case OutboundMigrationBatchAck:
		return encodeFrame(frameMigrationBatchAck, m.Ack)
	case OutboundStartRebalance:
		return encodeFrame(frameStartRebalance, startRebalanceWire{From: m.From})
	default:
		return wireFrame{}, errUnknownOutboundMessage
	}
}

type migrateBatchWire struct {
	Batch   MigrationBatch    `json:"batch"`
	Entries map[string]string `json:"entries"`
}

type startRebalanceWire struct {
	From PeerIdentifier `json:"from"`
}

// decodeFrame turns a received wire frame into the ClusterCommand the
// actor should process. respond is used by the two RPCs that reply
// synchronously over the same connection (AppendEntries, RequestVote);
// everything else replies asynchronously through the normal peer map
// (see migration.go's sendBatchAck), so it ignores respond.
func decodeFrame(f wireFrame, from PeerIdentifier, respond func(wireFrame)) (ClusterCommand, error) {
	switch f.Type {
	case frameAppendEntries:
		var hb HeartBeat
		if err := json.Unmarshal(f.Payload, &hb); err != nil {
			return nil, err
		}
		return AppendEntriesRPC{HB: hb, RespondTo: func(ack ReplicationAckMsg) {
			frame, err := encodeFrame(frameReplicationAck, ack)
			if err == nil {
				respond(frame)
			}
		}}, nil

	case frameHeartBeat:
		var hb HeartBeat
		if err := json.Unmarshal(f.Payload, &hb); err != nil {
			return nil, err
		}
		return ClusterHeartBeatCmd{HB: hb}, nil

	case frameRequestVote:
		var rv RequestVoteMsg
		if err := json.Unmarshal(f.Payload, &rv); err != nil {
			return nil, err
		}
		return RequestVoteCmd{RV: rv, RespondTo: func(vote ElectionVoteMsg) {
			frame, err := encodeFrame(frameElectionVote, vote)
			if err == nil {
				respond(frame)
			}
		}}, nil

	case frameElectionVote:
		var vote ElectionVoteMsg
		if err := json.Unmarshal(f.Payload, &vote); err != nil {
			return nil, err
		}
		return ElectionVoteCmd{Vote: vote}, nil

	case frameReplicationAck:
		var ack ReplicationAckMsg
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			return nil, err
		}
		return ReplicationAckCmd{Ack: ack}, nil

	case frameMigrateBatch:
		var w migrateBatchWire
		if err := json.Unmarshal(f.Payload, &w); err != nil {
			return nil, err
		}
		return ReceiveBatchCmd{Batch: w.Batch, Entries: w.Entries, From: from}, nil

	case frameMigrationBatchAck:
		var ack MigrationBatchAckMsg
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			return nil, err
		}
		return MigrationBatchAckCmd{Ack: ack}, nil

	case frameStartRebalance:
		var w startRebalanceWire
		if err := json.Unmarshal(f.Payload, &w); err != nil {
			return nil, err
		}
		return StartRebalanceCmd{From: w.From}, nil

	default:
		return nil, errUnknownWireFrame
	}
}
