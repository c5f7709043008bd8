package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/azizikri/loyalty-coupon/internal/config"
	"github.com/azizikri/loyalty-coupon/internal/domain"
	"github.com/azizikri/loyalty-coupon/internal/usecase"
)

// Gateway forwards coupon operations over Kafka and waits for the reply on
// this instance's reply topic.
type Gateway struct {
	client      *kgo.Client
	cfg         *config.Config
	log         *zap.Logger
	pendingResp sync.Map
}

func NewGateway(cfg *config.Config, client *kgo.Client, log *zap.Logger) *Gateway {
	return &Gateway{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

func (g *Gateway) ReplyTopic() string {
	return fmt.Sprintf("%s%s", TopicReplyPrefix, g.cfg.KafkaInstanceID)
}

func (g *Gateway) IssueCoupon(ctx context.Context, memberID int64) (*domain.CouponView, error) {
	resp, err := g.call(ctx, TopicIssueRequest, RequestPayload{MemberID: memberID})
	if err != nil {
		return nil, err
	}
	return resp.Coupon, nil
}

func (g *Gateway) ListHistory(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	resp, err := g.call(ctx, TopicHistoryRequest, RequestPayload{MemberID: memberID})
	if err != nil {
		return nil, err
	}
	return nonNil(resp.Coupons), nil
}

func (g *Gateway) ListRedeemable(ctx context.Context, memberID int64) ([]domain.CouponView, error) {
	resp, err := g.call(ctx, TopicRedeemableRequest, RequestPayload{MemberID: memberID})
	if err != nil {
		return nil, err
	}
	return nonNil(resp.Coupons), nil
}

func (g *Gateway) RedeemCoupon(ctx context.Context, memberID int64, tierID int, targetRef string) (*domain.Redemption, error) {
	resp, err := g.call(ctx, TopicRedeemRequest, RequestPayload{
		MemberID:  memberID,
		TierID:    tierID,
		TargetRef: targetRef,
	})
	if err != nil {
		return nil, err
	}
	return resp.Redemption, nil
}

func (g *Gateway) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	resp, err := g.call(ctx, TopicTiersRequest, RequestPayload{})
	if err != nil {
		return nil, err
	}
	if resp.Tiers == nil {
		return []domain.Tier{}, nil
	}
	return resp.Tiers, nil
}

func (g *Gateway) call(ctx context.Context, topic string, req RequestPayload) (*ResponsePayload, error) {
	req.SchemaVersion = 1
	req.CorrelationID = uuid.New().String()
	req.ReplyTo = g.ReplyTopic()

	// Keyed by member so one member's requests stay ordered on one partition.
	key := []byte(strconv.FormatInt(req.MemberID, 10))
	resp, err := g.requestReply(ctx, topic, key, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, fmt.Errorf("produce %s: %w", topic, err)
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrReplyTimeout
	}
}

// HandleResponse delivers a reply record to the request waiting on its
// correlation id. Late replies are dropped.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.log.Warn("failed to decode response payload", zap.Error(err))
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *ResponsePayload) <- &resp:
		default:
		}
		return
	}

	g.log.Debug("no pending response", zap.String("correlation_id", resp.CorrelationID))
}

func nonNil(views []domain.CouponView) []domain.CouponView {
	if views == nil {
		return []domain.CouponView{}
	}
	return views
}

var _ usecase.CouponGateway = (*Gateway)(nil)
