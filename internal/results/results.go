// Package results publishes the final standings of a finished race.
package results

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/ranking"
)

const DefaultChannel = "kart-results"

type Line struct {
	Position   int          `json:"position"`
	PlayerID   string       `json:"playerId"`
	Name       string       `json:"name"`
	Color      engine.Color `json:"color"`
	Time       string       `json:"time"`
	FinishTime int64        `json:"finishTimeMs"`
}

type Report struct {
	HostID     string    `json:"hostId"`
	MapID      string    `json:"mapId"`
	FinishedAt time.Time `json:"finishedAt"`
	Standings  []Line    `json:"standings"`
}

func Build(hostID, mapID string, final []ranking.Standing, at time.Time) Report {
	r := Report{HostID: hostID, MapID: mapID, FinishedAt: at, Standings: make([]Line, 0, len(final))}
	for _, s := range final {
		r.Standings = append(r.Standings, Line{
			Position:   s.Position,
			PlayerID:   s.PlayerID,
			Name:       s.Name,
			Color:      s.Color,
			Time:       ranking.FormatTime(s.FinishTime),
			FinishTime: s.FinishTime.Milliseconds(),
		})
	}
	return r
}

type Publisher interface {
	Publish(ctx context.Context, r Report) error
}

type RedisPublisher struct {
	broker  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisPublisher(broker *redis.Client, channel string, log *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{broker: broker, channel: channel, log: log.Named("results")}
}

func (p *RedisPublisher) Publish(ctx context.Context, r Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := p.broker.Publish(ctx, p.channel, b).Err(); err != nil {
		p.log.Error("could not publish results", zap.String("channel", p.channel), zap.Error(err))
		return err
	}
	return nil
}

// LogPublisher writes results to the log. Used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log.Named("results")}
}

func (p *LogPublisher) Publish(_ context.Context, r Report) error {
	fields := []zap.Field{zap.String("host", r.HostID), zap.String("map", r.MapID)}
	for _, l := range r.Standings {
		fields = append(fields, zap.String(ranking.PositionLabel(l.Position), l.Name+" "+l.Time))
	}
	p.log.Info("race finished", fields...)
	return nil
}

// Forward hands every report published on channel to pub until ctx is done.
// Malformed payloads are logged and skipped.
func Forward(ctx context.Context, broker *redis.Client, channel string, pub Publisher, log *zap.Logger) error {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("results")

	sub := broker.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("listening for results", zap.String("channel", channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			var r Report
			if err := json.Unmarshal([]byte(m.Payload), &r); err != nil {
				log.Warn("bad results payload", zap.Error(err))
				continue
			}
			if err := pub.Publish(ctx, r); err != nil {
				log.Warn("forwarding results failed", zap.Error(err))
			}
		}
	}
}
