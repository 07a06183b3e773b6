package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScreeningsPubSub tells every instance that a screening's occupied seats
// changed so cached copies can be dropped.
type ScreeningsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewScreeningsPubSub(rdb *redis.Client) *ScreeningsPubSub {
	return &ScreeningsPubSub{
		rdb:     rdb,
		channel: ChannelScreeningsChanged(),
	}
}

type screeningChangedMsg struct {
	Type        string `json:"type"`
	ScreeningID int64  `json:"screening_id"`
	TsUnix      int64  `json:"ts_unix"`
}

func (p *ScreeningsPubSub) PublishScreeningChanged(ctx context.Context, screeningID int64) error {
	b, err := json.Marshal(screeningChangedMsg{
		Type:        "screening_changed",
		ScreeningID: screeningID,
		TsUnix:      time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe calls handler for every change notification until ctx is done.
func (p *ScreeningsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, screeningID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg screeningChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil && msg.ScreeningID != 0 {
				handler(ctx, msg.ScreeningID)
			}
		}
	}
}
