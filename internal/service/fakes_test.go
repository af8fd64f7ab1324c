package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/llm"
	"innovacollab/pkg/log"
	"innovacollab/pkg/storage"
	"innovacollab/pkg/tasks"
)

func init() {
	log.InitNop()
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type fakeUserRepo struct {
	repository.UserRepository
	users    map[uint]*model.User
	profiles map[uint]*model.UserProfile
	nextID   uint
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*model.User{}, profiles: map[uint]*model.UserProfile{}}
}

func (r *fakeUserRepo) add(u *model.User) *model.User {
	r.nextID++
	if u.ID == 0 {
		u.ID = r.nextID
	}
	r.users[u.ID] = u
	return u
}

func (r *fakeUserRepo) Create(u *model.User) error {
	r.add(u)
	return nil
}

func (r *fakeUserRepo) find(match func(*model.User) bool) (*model.User, error) {
	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByUsername(name string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == name })
}

func (r *fakeUserRepo) FindByEmail(email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email })
}

func (r *fakeUserRepo) FindByLogin(login string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == login || u.Email == login })
}

func (r *fakeUserRepo) FindByID(id uint) (*model.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) Update(u *model.User) error {
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) FindProfile(userID uint) (*model.UserProfile, error) {
	p, ok := r.profiles[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (r *fakeUserRepo) UpsertProfile(p *model.UserProfile) error {
	r.profiles[p.UserID] = p
	return nil
}

type fakeRoomRepo struct {
	repository.RoomRepository
	rooms map[uint]*model.Room
}

func (r *fakeRoomRepo) FindActiveByID(id uint) (*model.Room, error) {
	room, ok := r.rooms[id]
	if !ok || !room.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return room, nil
}

func (r *fakeRoomRepo) Create(room *model.Room) error {
	room.ID = uint(len(r.rooms) + 1)
	r.rooms[room.ID] = room
	return nil
}

type fakeEnrollmentRepo struct {
	repository.EnrollmentRepository
	mu          sync.Mutex
	enrollments map[uint]*model.Enrollment
	nextID      uint
	sweptBefore time.Time
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{enrollments: map[uint]*model.Enrollment{}}
}

func (r *fakeEnrollmentRepo) Create(e *model.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.enrollments {
		if existing.UserID == e.UserID && existing.RoomID == e.RoomID {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	e.ID = r.nextID
	copied := *e
	r.enrollments[e.ID] = &copied
	return nil
}

func (r *fakeEnrollmentRepo) FindByID(id uint) (*model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *fakeEnrollmentRepo) FindByUserAndRoom(userID, roomID uint) (*model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.enrollments {
		if e.UserID == userID && e.RoomID == roomID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeEnrollmentRepo) FindByUser(userID uint) ([]model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Enrollment
	for _, e := range r.enrollments {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeEnrollmentRepo) MarkCheckoutStarted(id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	e.CheckoutStartedAt = &at
	return nil
}

func (r *fakeEnrollmentRepo) DeleteStalePendingPremium(before time.Time) (int64, error) {
	r.sweptBefore = before
	return 0, nil
}

// fakePaymentRepo 复用 fakeEnrollmentRepo 模拟事务内的激活与支付创建。
type fakePaymentRepo struct {
	repository.PaymentRepository
	enrollments *fakeEnrollmentRepo
	payments    map[uint]*model.Payment
}

func (r *fakePaymentRepo) CompleteEnrollment(userID, roomID uint, p *model.Payment) (*model.Enrollment, error) {
	r.enrollments.mu.Lock()
	defer r.enrollments.mu.Unlock()
	e, ok := r.enrollments.enrollments[p.EnrollmentID]
	if !ok || e.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	if e.EnrollmentType != model.EnrollmentPremium {
		return nil, repository.ErrEnrollmentNotPremium
	}
	if !e.CanTransition(model.EnrollmentActive) {
		return nil, repository.ErrEnrollmentClosed
	}
	if _, paid := r.payments[e.ID]; paid {
		return nil, repository.ErrAlreadyPaid
	}
	if e.Status == model.EnrollmentPending {
		e.Status = model.EnrollmentActive
	}
	p.ID = uint(len(r.payments) + 1)
	p.UserID = userID
	p.RoomID = e.RoomID
	p.PaymentStatus = model.PaymentCompleted
	r.payments[e.ID] = p
	copied := *e
	return &copied, nil
}

func (r *fakePaymentRepo) FindByEnrollment(enrollmentID uint) (*model.Payment, error) {
	p, ok := r.payments[enrollmentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

type fakeMaterialRepo struct {
	repository.MaterialRepository
	materials map[uint]*model.StudyMaterial
	nextID    uint
}

func newFakeMaterialRepo() *fakeMaterialRepo {
	return &fakeMaterialRepo{materials: map[uint]*model.StudyMaterial{}}
}

func (r *fakeMaterialRepo) Create(m *model.StudyMaterial) error {
	r.nextID++
	m.ID = r.nextID
	r.materials[m.ID] = m
	return nil
}

func (r *fakeMaterialRepo) Update(m *model.StudyMaterial) error {
	r.materials[m.ID] = m
	return nil
}

func (r *fakeMaterialRepo) Delete(id uint) error {
	delete(r.materials, id)
	return nil
}

func (r *fakeMaterialRepo) FindInRoom(roomID, materialID uint) (*model.StudyMaterial, error) {
	m, ok := r.materials[materialID]
	if !ok || m.RoomID != roomID || !m.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMaterialRepo) ListByRoom(roomID uint) ([]model.StudyMaterial, error) {
	var out []model.StudyMaterial
	for id := uint(1); id <= r.nextID; id++ {
		if m, ok := r.materials[id]; ok && m.RoomID == roomID && m.IsActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakeChatRepo struct {
	repository.ChatRepository
	sessions  map[string]*model.ChatSession
	summaries []model.ChatSummary
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{sessions: map[string]*model.ChatSession{}}
}

func chatRowKey(userID, roomID uint) string { return fmt.Sprintf("%d:%d", userID, roomID) }

func (r *fakeChatRepo) FindSession(userID, roomID uint) (*model.ChatSession, error) {
	s, ok := r.sessions[chatRowKey(userID, roomID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (r *fakeChatRepo) FindBySessionID(userID uint, sessionID string) (*model.ChatSession, error) {
	for _, s := range r.sessions {
		if s.UserID == userID && s.SessionID == sessionID {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeChatRepo) GetOrCreateSession(userID, roomID uint, sessionID string) (*model.ChatSession, error) {
	if s, ok := r.sessions[chatRowKey(userID, roomID)]; ok {
		return s, nil
	}
	s := &model.ChatSession{ID: uint(len(r.sessions) + 1), UserID: userID, RoomID: roomID, SessionID: sessionID, IsActive: true}
	r.sessions[chatRowKey(userID, roomID)] = s
	return s, nil
}

func (r *fakeChatRepo) BindSession(userID, roomID uint, sessionID string) (*model.ChatSession, error) {
	s, err := r.GetOrCreateSession(userID, roomID, sessionID)
	if err != nil {
		return nil, err
	}
	s.SessionID = sessionID
	return s, nil
}

func (r *fakeChatRepo) CreateSummary(s *model.ChatSummary) error {
	s.ID = uint(len(r.summaries) + 1)
	r.summaries = append(r.summaries, *s)
	return nil
}

func (r *fakeChatRepo) ListSummaries(userID, roomID uint, limit int) ([]model.ChatSummary, error) {
	var out []model.ChatSummary
	for _, s := range r.summaries {
		if s.UserID == userID && s.RoomID == roomID && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeObjectStore struct {
	objects map[string][]byte
	removed []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = b
	return nil
}

func (s *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	b, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), storage.ObjectInfo{Size: int64(len(b))}, nil
}

func (s *fakeObjectStore) Remove(_ context.Context, key string) error {
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

func (s *fakeObjectStore) PresignedURL(_ context.Context, key string, _ time.Duration, _ string) (string, error) {
	return "https://objects.test/" + key, nil
}

type fakeProducer struct {
	tasks []tasks.MaterialProcessingTask
}

func (p *fakeProducer) ProduceMaterialTask(_ context.Context, task tasks.MaterialProcessingTask) error {
	p.tasks = append(p.tasks, task)
	return nil
}

type fakeSearcher struct {
	hits []model.MaterialSearchHit
}

func (s *fakeSearcher) Search(_ context.Context, _ uint, _ string, _ int) ([]model.MaterialSearchHit, error) {
	return s.hits, nil
}

type fakeExtractor struct {
	text  string
	calls int
}

func (e *fakeExtractor) ExtractText(_ context.Context, _ io.Reader, _ string) (string, error) {
	e.calls++
	return e.text, nil
}

// fakeLLM 记录每次调用的消息，按顺序返回预设回复。
type fakeLLM struct {
	replies []string
	err     error
	calls   [][]llm.Message
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "ok", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return f.err
	}
	for _, part := range strings.SplitAfter(strings.Join(f.replies, ""), " ") {
		if err := w.WriteMessage(1, []byte(part)); err != nil {
			return err
		}
	}
	return nil
}
