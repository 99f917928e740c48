package chat

import (
	"context"
	"sync"
)

// Recorder is an in-process Transport that records every call. Workflow tests
// assert on its captured messages instead of talking to the bot API.
type Recorder struct {
	mu     sync.Mutex
	nextID int

	Sent      []RecordedMessage
	Edits     []RecordedMessage
	Deleted   []int
	Responses []string
	Pinned    []int
}

// RecordedMessage is one Send or Edit call.
type RecordedMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Opts      *SendOptions
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, chatID int64, text string, opts *SendOptions) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.Sent = append(r.Sent, RecordedMessage{ChatID: chatID, MessageID: r.nextID, Text: text, Opts: opts})
	return r.nextID, nil
}

func (r *Recorder) Edit(_ context.Context, chatID int64, messageID int, text string, opts *SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Edits = append(r.Edits, RecordedMessage{ChatID: chatID, MessageID: messageID, Text: text, Opts: opts})
	return nil
}

func (r *Recorder) Delete(_ context.Context, _ int64, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deleted = append(r.Deleted, messageID)
	return nil
}

func (r *Recorder) Respond(_ context.Context, _ string, text string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = append(r.Responses, text)
	return nil
}

func (r *Recorder) Pin(_ context.Context, _ int64, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pinned = append(r.Pinned, messageID)
	return nil
}

// LastSent returns the most recent Send, or nil.
func (r *Recorder) LastSent() *RecordedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sent) == 0 {
		return nil
	}
	m := r.Sent[len(r.Sent)-1]
	return &m
}
