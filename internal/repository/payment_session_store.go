package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"innovacollab/internal/model"
)

// PaymentSessionStore 保存结账过程中的临时支付会话，按浏览器会话隔离。
type PaymentSessionStore interface {
	Save(ctx context.Context, sessionKey string, s *model.PaymentSession) error
	// Take 原子地取出并删除会话；不存在时返回 (nil, nil)。
	Take(ctx context.Context, sessionKey string) (*model.PaymentSession, error)
}

type redisPaymentSessionStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewPaymentSessionStore 创建基于 Redis 的支付会话存储，ttl 到期后会话自动失效。
func NewPaymentSessionStore(redisClient *redis.Client, ttl time.Duration) PaymentSessionStore {
	return &redisPaymentSessionStore{redisClient: redisClient, ttl: ttl}
}

func paymentSessionKey(sessionKey string) string {
	return fmt.Sprintf("payment:session:%s", sessionKey)
}

func (r *redisPaymentSessionStore) Save(ctx context.Context, sessionKey string, s *model.PaymentSession) error {
	if sessionKey == "" {
		return errors.New("empty browser session key")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal payment session: %w", err)
	}
	if err := r.redisClient.Set(ctx, paymentSessionKey(sessionKey), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save payment session: %w", err)
	}
	return nil
}

func (r *redisPaymentSessionStore) Take(ctx context.Context, sessionKey string) (*model.PaymentSession, error) {
	if sessionKey == "" {
		return nil, nil
	}
	data, err := r.redisClient.GetDel(ctx, paymentSessionKey(sessionKey)).Bytes()
	return decodePaymentSession(data, err)
}

func decodePaymentSession(data []byte, err error) (*model.PaymentSession, error) {
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment session: %w", err)
	}
	var s model.PaymentSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment session: %w", err)
	}
	return &s, nil
}
