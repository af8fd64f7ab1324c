package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"innovacollab/internal/model"
	"innovacollab/pkg/log"
)

// ErrSessionBusy 在锁等待超时后返回。
var ErrSessionBusy = errors.New("chat session is busy")

// ChatSessionStore 是 AI 助手会话缓存的抽象，实现需保证同一会话内追加有序。
type ChatSessionStore interface {
	// GetOrCreate 返回会话快照；created 表示本次调用新建了会话。
	GetOrCreate(ctx context.Context, sessionID string) (state *model.ChatSessionState, created bool, err error)
	// AppendTurns 按顺序原子追加，超出上限时丢弃最旧的记录。
	AppendTurns(ctx context.Context, sessionID string, turns ...model.ChatTurn) error
	History(ctx context.Context, sessionID string) ([]model.ChatTurn, error)
	// Lock 获取会话级互斥锁，返回的 unlock 必须调用。
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
	Delete(ctx context.Context, sessionID string) error
}

type redisChatSessionStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	lockTTL     time.Duration
	renewEvery  time.Duration
	maxTurns    int
}

// NewRedisChatSessionStore 创建多进程共享的 Redis 会话缓存。
// 持锁期间每 lockTTL/3 续期一次，锁只会在持有者崩溃后过期。
func NewRedisChatSessionStore(redisClient *redis.Client, ttl, lockTTL time.Duration, maxTurns int) ChatSessionStore {
	return &redisChatSessionStore{
		redisClient: redisClient,
		ttl:         ttl,
		lockTTL:     lockTTL,
		renewEvery:  lockTTL / 3,
		maxTurns:    maxTurns,
	}
}

func chatMetaKey(id string) string  { return fmt.Sprintf("chat:session:%s:meta", id) }
func chatTurnsKey(id string) string { return fmt.Sprintf("chat:session:%s:turns", id) }
func chatLockKey(id string) string  { return fmt.Sprintf("chat:session:%s:lock", id) }

// unlockScript 仅在锁仍属于自己时删除，避免误删他人的锁。
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript 仅在锁仍属于自己时延长过期时间。
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

func (r *redisChatSessionStore) GetOrCreate(ctx context.Context, sessionID string) (*model.ChatSessionState, bool, error) {
	now := time.Now()
	created, err := r.redisClient.SetNX(ctx, chatMetaKey(sessionID), now.Unix(), r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create chat session: %w", err)
	}

	state := &model.ChatSessionState{SessionID: sessionID, CreatedAt: now}
	if created {
		return state, true, nil
	}

	// 已存在：刷新空闲 TTL 并读取历史
	pipe := r.redisClient.TxPipeline()
	metaCmd := pipe.Get(ctx, chatMetaKey(sessionID))
	pipe.Expire(ctx, chatMetaKey(sessionID), r.ttl)
	pipe.Expire(ctx, chatTurnsKey(sessionID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("failed to touch chat session: %w", err)
	}
	if ts, err := strconv.ParseInt(metaCmd.Val(), 10, 64); err == nil {
		state.CreatedAt = time.Unix(ts, 0)
	}

	history, err := r.History(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	state.History = history
	return state, false, nil
}

func (r *redisChatSessionStore) AppendTurns(ctx context.Context, sessionID string, turns ...model.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal chat turn: %w", err)
		}
		values = append(values, b)
	}

	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, chatMetaKey(sessionID), time.Now().Unix(), r.ttl)
		pipe.Expire(ctx, chatMetaKey(sessionID), r.ttl)
		pipe.RPush(ctx, chatTurnsKey(sessionID), values...)
		if r.maxTurns > 0 {
			pipe.LTrim(ctx, chatTurnsKey(sessionID), int64(-r.maxTurns), -1)
		}
		pipe.Expire(ctx, chatTurnsKey(sessionID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat turns: %w", err)
	}
	return nil
}

func (r *redisChatSessionStore) History(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	raw, err := r.redisClient.LRange(ctx, chatTurnsKey(sessionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	turns := make([]model.ChatTurn, 0, len(raw))
	for _, item := range raw {
		var t model.ChatTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *redisChatSessionStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	token := uuid.NewString()
	key := chatLockKey(sessionID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = r.lockTTL

	err := backoff.Retry(func() error {
		ok, err := r.redisClient.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrSessionBusy
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			return nil, ErrSessionBusy
		}
		return nil, fmt.Errorf("failed to lock chat session: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepLock(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// 使用独立上下文，请求被取消时也要释放锁
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(releaseCtx, r.redisClient, []string{key}, token).Err()
		})
	}, nil
}

// keepLock 在 stop 关闭前定期续期锁；锁已被他人持有时停止续期。
func (r *redisChatSessionStore) keepLock(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if r.renewEvery <= 0 {
		return
	}
	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.renewEvery)
			renewed, err := renewScript.Run(ctx, r.redisClient, []string{key}, token, r.lockTTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Warnf("[ChatSessionStore] 会话锁续期失败, key: %s, error: %v", key, err)
				continue
			}
			if renewed == 0 {
				log.Warnf("[ChatSessionStore] 会话锁已丢失, key: %s", key)
				return
			}
		}
	}
}

func (r *redisChatSessionStore) Delete(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, chatMetaKey(sessionID), chatTurnsKey(sessionID)).Err()
}
