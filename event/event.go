package event

import (
	"time"

	"github.com/fannyfinal/antares/id"
)

// Event represents a named event published to the event bus. The
// dispatch barrier waits on shard-finished events so it wakes as soon as
// a worker reports, instead of polling the store.
type Event struct {
	ID        id.EventID `json:"id"`
	Name      string     `json:"name"`
	Payload   []byte     `json:"payload,omitempty"`
	Acked     bool       `json:"acked"`
	CreatedAt time.Time  `json:"created_at"`
}

// ShardFinished returns the event name workers publish under when a
// shard of the given instance reaches a terminal status.
func ShardFinished(instanceID id.InstanceID) string {
	return "shard.finished:" + instanceID.String()
}
