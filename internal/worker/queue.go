package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TranscodeRequest asks a worker to transcode one stored source.
type TranscodeRequest struct {
	JobID     string
	SourceKey string
	OutputKey string
}

// Delivery is a request read from the queue. It must be acknowledged once
// handled, successfully or not.
type Delivery struct {
	MessageID string
	Request   TranscodeRequest
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, reqs ...TranscodeRequest) error
}

type JobReceiver interface {
	// Receive blocks until requests arrive or the block timeout passes, in
	// which case it returns no deliveries and no error.
	Receive(ctx context.Context) ([]Delivery, error)
	Ack(ctx context.Context, deliveries ...Delivery) error
}

// RedisJobQueue is a Redis stream read through a consumer group, so each
// request is delivered to one worker.
type RedisJobQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	// Count bounds the requests returned by one Receive.
	Count int64
	// Block bounds how long Receive waits for new requests.
	Block time.Duration
}

func NewRedisJobQueue(ctx context.Context, client *redis.Client, stream, group, consumer string) (*RedisJobQueue, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}

	return &RedisJobQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		Count:    1,
		Block:    5 * time.Second,
	}, nil
}

var (
	_ JobEnqueuer = (*RedisJobQueue)(nil)
	_ JobReceiver = (*RedisJobQueue)(nil)
)

func (q *RedisJobQueue) Enqueue(ctx context.Context, reqs ...TranscodeRequest) error {
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, req := range reqs {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: q.stream,
				Values: map[string]any{
					"jobID":     req.JobID,
					"sourceKey": req.SourceKey,
					"outputKey": req.OutputKey,
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue transcode requests: %w", err)
	}
	return nil
}

func (q *RedisJobQueue) Receive(ctx context.Context) ([]Delivery, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.Count,
		Block:    q.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream %s: %w", q.stream, err)
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			req, err := parseRequest(msg.Values)
			if err != nil {
				// Malformed messages are acked and dropped.
				slog.Error("dropping malformed transcode request",
					slog.String("messageID", msg.ID),
					slog.Any("error", err),
				)
				if err := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
					return nil, fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
				}
				continue
			}
			deliveries = append(deliveries, Delivery{MessageID: msg.ID, Request: req})
		}
	}
	return deliveries, nil
}

func (q *RedisJobQueue) Ack(ctx context.Context, deliveries ...Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	ids := make([]string, len(deliveries))
	for i, d := range deliveries {
		ids[i] = d.MessageID
	}
	if err := q.client.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack %d messages: %w", len(ids), err)
	}
	return nil
}

func parseRequest(values map[string]any) (TranscodeRequest, error) {
	field := func(name string) (string, error) {
		v, ok := values[name].(string)
		if !ok || v == "" {
			return "", fmt.Errorf("missing field %q", name)
		}
		return v, nil
	}

	var (
		req TranscodeRequest
		err error
	)
	if req.JobID, err = field("jobID"); err != nil {
		return req, err
	}
	if req.SourceKey, err = field("sourceKey"); err != nil {
		return req, err
	}
	if req.OutputKey, err = field("outputKey"); err != nil {
		return req, err
	}
	return req, nil
}
