package services

import (
	"encoding/json"
	"time"
)

// JobKindReply identifies reply jobs on the durable queue.
const JobKindReply = "reply"

// ReplyJob is the payload carried by a reply job. It is the full inbound
// message, so a worker can process it without re-reading webhook state.
type ReplyJob struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}

// Encode serializes the job payload for the queue.
func (r ReplyJob) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeReplyJob parses a queued payload back into a ReplyJob.
func DecodeReplyJob(payload string) (ReplyJob, error) {
	var r ReplyJob
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return ReplyJob{}, ErrBadPayload
	}
	return r, nil
}
