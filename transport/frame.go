// Package transport implements the server→worker push channel over
// WebSocket. The Hub broadcasts dispatched instances to the connected
// workers of an application and receives their heartbeats. The push is
// a latency optimization on top of shard pulling: a worker that misses
// a push still finds the shards by polling the store.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
)

// FrameType identifies the frame category.
type FrameType string

const (
	// FrameDispatch carries a dispatched instance and its shards.
	FrameDispatch FrameType = "dispatch"
	// FrameHeartbeat is sent worker→server to refresh liveness.
	FrameHeartbeat FrameType = "heartbeat"
	// FrameErr reports a protocol error to the peer.
	FrameErr FrameType = "error"
)

// Frame is the wire envelope. Every message exchanged on the push
// channel is a Frame.
type Frame struct {
	Type      FrameType       `json:"type"`
	AppName   string          `json:"app_name,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// DispatchPayload is the Data of a FrameDispatch frame.
type DispatchPayload struct {
	Instance *instance.Instance `json:"instance"`
	Shards   []*instance.Shard  `json:"shards"`
}

// NewDispatchFrame builds a dispatch frame for an instance and its
// shards.
func NewDispatchFrame(appName string, inst *instance.Instance, shards []*instance.Shard) (*Frame, error) {
	data, err := json.Marshal(DispatchPayload{Instance: inst, Shards: shards})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal dispatch payload: %w", err)
	}
	return &Frame{
		Type:      FrameDispatch,
		AppName:   appName,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewHeartbeatFrame builds a heartbeat frame for a worker.
func NewHeartbeatFrame(appName string, workerID id.WorkerID) *Frame {
	return &Frame{
		Type:      FrameHeartbeat,
		AppName:   appName,
		WorkerID:  workerID.String(),
		Timestamp: time.Now().UTC(),
	}
}
