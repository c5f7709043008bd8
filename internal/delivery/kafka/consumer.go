package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/azizikri/loyalty-coupon/internal/config"
	"github.com/azizikri/loyalty-coupon/internal/usecase"
)

type Consumer struct {
	client  *kgo.Client
	cfg     *config.Config
	service usecase.CouponGateway
	log     *zap.Logger
	ready   chan struct{}
}

func NewConsumer(cfg *config.Config, client *kgo.Client, service usecase.CouponGateway, log *zap.Logger) *Consumer {
	return &Consumer{
		client:  client,
		cfg:     cfg,
		service: service,
		log:     log,
		ready:   make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Warn("consumer poll error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			c.processRecord(ctx, record)
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Warn("failed to commit records", zap.Error(err))
		}
	}
}

// StartRetry moves records from the retry topics back to their request
// topics once their x-next-at time has passed.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			if nextAt, ok := retryNextAt(record); ok {
				if wait := time.Until(nextAt); wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return
					}
				}
			}

			newRecord := &kgo.Record{
				Topic:   requestTopicFor(record.Topic),
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.client.ProduceSync(ctx, newRecord).FirstErr(); err != nil {
				c.log.Warn("failed to requeue retry record", zap.String("topic", newRecord.Topic), zap.Error(err))
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Warn("failed to commit retry records", zap.Error(err))
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, ErrInvalidRequest.Error())
		return
	}

	resp, err := c.handle(ctx, record.Topic, req)
	if resp == nil {
		c.log.Warn("record on unknown topic", zap.String("topic", record.Topic))
		return
	}

	if retryable(err) {
		attempt := retryAttempt(record)
		if attempt < RetryMaxAttempts {
			c.scheduleRetry(ctx, record, attempt, err)
			return
		}
		c.log.Error("giving up on request",
			zap.String("topic", record.Topic),
			zap.String("correlation_id", req.CorrelationID),
			zap.Int("attempts", attempt+1),
			zap.Error(err),
		)
	}

	c.sendResponse(ctx, req.ReplyTo, resp)
}

// handle runs the request against the service. The returned error is the
// service error, already folded into resp. A nil resp means the topic is not
// one this consumer serves.
func (c *Consumer) handle(ctx context.Context, topic string, req RequestPayload) (*ResponsePayload, error) {
	resp := &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: req.CorrelationID,
		Status:        StatusSuccess,
	}

	var err error
	switch topic {
	case TopicIssueRequest:
		if req.MemberID <= 0 {
			err = ErrInvalidRequest
			break
		}
		resp.Coupon, err = c.service.IssueCoupon(ctx, req.MemberID)
	case TopicHistoryRequest:
		if req.MemberID <= 0 {
			err = ErrInvalidRequest
			break
		}
		resp.Coupons, err = c.service.ListHistory(ctx, req.MemberID)
	case TopicRedeemableRequest:
		if req.MemberID <= 0 {
			err = ErrInvalidRequest
			break
		}
		resp.Coupons, err = c.service.ListRedeemable(ctx, req.MemberID)
	case TopicRedeemRequest:
		if req.MemberID <= 0 || req.TierID <= 0 {
			err = ErrInvalidRequest
			break
		}
		resp.Redemption, err = c.service.RedeemCoupon(ctx, req.MemberID, req.TierID, req.TargetRef)
	case TopicTiersRequest:
		resp.Tiers, err = c.service.ListTiers(ctx)
	default:
		return nil, nil
	}

	if err != nil {
		return errorResponse(req.CorrelationID, err), err
	}
	return resp, nil
}

func (c *Consumer) scheduleRetry(ctx context.Context, record *kgo.Record, attempt int, cause error) {
	retry := retryRecord(record, attempt, time.Now())
	if err := c.client.ProduceSync(ctx, retry).FirstErr(); err != nil {
		c.log.Error("failed to schedule retry", zap.String("topic", retry.Topic), zap.Error(err))
		return
	}
	c.log.Info("request scheduled for retry",
		zap.String("topic", retry.Topic),
		zap.Int("attempt", attempt+1),
		zap.Error(cause),
	)
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("failed to encode response", zap.Error(err))
		return
	}
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		c.log.Warn("failed to send response", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, code, message string) {
	var req RequestPayload
	_ = json.Unmarshal(record.Value, &req)

	resp := &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: req.CorrelationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
	c.sendResponse(ctx, req.ReplyTo, resp)

	dlqRecord := &kgo.Record{
		Topic: record.Topic + TopicDLQSuffix,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.client.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		c.log.Warn("failed to dead-letter record", zap.String("topic", dlqRecord.Topic), zap.Error(err))
	}
}

func errorResponse(correlationID string, err error) *ResponsePayload {
	code, message, detail := encodeError(err)
	return &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
		ErrorDetail:   detail,
	}
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	value, ok := header(record, RetryHeaderNextAt)
	if !ok {
		return time.Time{}, false
	}
	nextAt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return nextAt, true
}

// retryAttempt is the number of retries already made for record.
func retryAttempt(record *kgo.Record) int {
	value, ok := header(record, RetryHeaderAttempt)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func retryRecord(record *kgo.Record, attempt int, now time.Time) *kgo.Record {
	nextAt := now.Add(RetryBackoff * time.Duration(attempt+1))

	headers := make([]kgo.RecordHeader, 0, len(record.Headers)+2)
	for _, h := range record.Headers {
		if h.Key == RetryHeaderNextAt || h.Key == RetryHeaderAttempt {
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers,
		kgo.RecordHeader{Key: RetryHeaderNextAt, Value: []byte(nextAt.UTC().Format(time.RFC3339Nano))},
		kgo.RecordHeader{Key: RetryHeaderAttempt, Value: []byte(strconv.Itoa(attempt + 1))},
	)

	return &kgo.Record{
		Topic:   retryTopicFor(record.Topic),
		Key:     record.Key,
		Value:   record.Value,
		Headers: headers,
	}
}

func header(record *kgo.Record, key string) (string, bool) {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func retryTopicFor(requestTopic string) string {
	return strings.TrimSuffix(requestTopic, TopicRequestSuffix) + TopicRetrySuffix
}

func requestTopicFor(retryTopic string) string {
	return strings.TrimSuffix(retryTopic, TopicRetrySuffix) + TopicRequestSuffix
}
