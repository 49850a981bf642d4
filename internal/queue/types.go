package queue

import "encoding/json"

// Message is the on-the-wire envelope stored in the goqite message body.
// It mirrors interfaces.Task but stays a queue-local type so the wire
// format can evolve independently of the collaborator contract.
type Message struct {
	JobID   string          `json:"job_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
