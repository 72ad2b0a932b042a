// Package events publishes completed turns to downstream consumers such as
// evaluation pipelines.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	qstashx "github.com/tanpawarit/chative-tutor/pkg/qstash"
)

type Publisher interface {
	Publish(ctx context.Context, msg qstashx.Message) (string, error)
}

// TurnEvent is the payload published for each completed turn.
type TurnEvent struct {
	EventID     string         `json:"event_id"`
	SessionID   string         `json:"session_id"`
	Turn        contractx.Turn `json:"turn"`
	ToolCalls   int            `json:"tool_calls"`
	FailedTools int            `json:"failed_tools"`
	PublishedAt time.Time      `json:"published_at"`
}

type QStashSink struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

var _ contractx.TurnSink = (*QStashSink)(nil)

func NewQStashSink(pub Publisher, topic string) *QStashSink {
	return &QStashSink{pub: pub, topic: strings.TrimSpace(topic), now: time.Now}
}

// EventID is stable per session turn so redelivered turns deduplicate.
func EventID(sessionID string, turnID uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tutor:"+sessionID+"/"+strconv.FormatUint(turnID, 10))).String()
}

func NewTurnEvent(sessionID string, turn contractx.Turn, now time.Time) TurnEvent {
	failed := 0
	for _, r := range turn.Results {
		if !r.Success {
			failed++
		}
	}
	return TurnEvent{
		EventID:     EventID(sessionID, turn.ID),
		SessionID:   sessionID,
		Turn:        turn,
		ToolCalls:   len(turn.Calls),
		FailedTools: failed,
		PublishedAt: now.UTC(),
	}
}

func (s *QStashSink) TurnCompleted(ctx context.Context, sessionID string, turn contractx.Turn) error {
	ev := NewTurnEvent(sessionID, turn, s.now())
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}
	if _, err := s.pub.Publish(ctx, qstashx.Message{
		Destination:     s.topic,
		Body:            body,
		DeduplicationID: ev.EventID,
	}); err != nil {
		return fmt.Errorf("publish turn %d: %w", turn.ID, err)
	}
	return nil
}
