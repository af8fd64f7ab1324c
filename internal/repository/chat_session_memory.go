package repository

import (
	"context"
	"sync"
	"time"

	"innovacollab/internal/model"
	"innovacollab/pkg/log"
)

type memorySession struct {
	state    model.ChatSessionState
	lastSeen time.Time
}

// memoryLock 是会话级互斥锁，refs 统计持有者与等待者，归零后才从表中移除。
type memoryLock struct {
	ch   chan struct{}
	refs int
}

// MemoryChatSessionStore 是单进程部署使用的内存会话缓存。
type MemoryChatSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	locks    map[string]*memoryLock
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

// NewMemoryChatSessionStore 创建内存会话缓存；ttl 为空闲淘汰时间。
func NewMemoryChatSessionStore(ttl time.Duration, maxTurns int) *MemoryChatSessionStore {
	return &MemoryChatSessionStore{
		sessions: make(map[string]*memorySession),
		locks:    make(map[string]*memoryLock),
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// lookup 在持锁状态下调用，顺带淘汰已过期的会话。
func (s *MemoryChatSessionStore) lookup(sessionID string) (*memorySession, bool) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(sess.lastSeen) > s.ttl {
		delete(s.sessions, sessionID)
		return nil, false
	}
	return sess, true
}

func (s *MemoryChatSessionStore) GetOrCreate(_ context.Context, sessionID string) (*model.ChatSessionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.lookup(sessionID)
	created := false
	if !ok {
		sess = &memorySession{state: model.ChatSessionState{SessionID: sessionID, CreatedAt: now}}
		s.sessions[sessionID] = sess
		created = true
	}
	sess.lastSeen = now

	snapshot := sess.state
	snapshot.History = append([]model.ChatTurn(nil), sess.state.History...)
	return &snapshot, created, nil
}

func (s *MemoryChatSessionStore) AppendTurns(_ context.Context, sessionID string, turns ...model.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.lookup(sessionID)
	if !ok {
		sess = &memorySession{state: model.ChatSessionState{SessionID: sessionID, CreatedAt: now}}
		s.sessions[sessionID] = sess
	}
	sess.state.History = append(sess.state.History, turns...)
	if s.maxTurns > 0 && len(sess.state.History) > s.maxTurns {
		sess.state.History = append([]model.ChatTurn(nil), sess.state.History[len(sess.state.History)-s.maxTurns:]...)
	}
	sess.lastSeen = now
	return nil
}

func (s *MemoryChatSessionStore) History(_ context.Context, sessionID string) ([]model.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookup(sessionID)
	if !ok {
		return []model.ChatTurn{}, nil
	}
	return append([]model.ChatTurn{}, sess.state.History...), nil
}

func (s *MemoryChatSessionStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &memoryLock{ch: make(chan struct{}, 1)}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				s.releaseLock(sessionID, l)
			})
		}, nil
	case <-ctx.Done():
		s.releaseLock(sessionID, l)
		return nil, ErrSessionBusy
	}
}

func (s *MemoryChatSessionStore) releaseLock(sessionID string, l *memoryLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 && s.locks[sessionID] == l {
		delete(s.locks, sessionID)
	}
}

func (s *MemoryChatSessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// EvictIdle 删除所有空闲超过 ttl 的会话，返回删除数量。
func (s *MemoryChatSessionStore) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Run 定期淘汰空闲会话，直到 ctx 结束。
func (s *MemoryChatSessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				log.Infof("内存聊天会话淘汰 %d 个", n)
			}
		}
	}
}
