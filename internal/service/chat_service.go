package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"innovacollab/internal/config"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/llm"
	"innovacollab/pkg/log"
	"innovacollab/pkg/storage"
)

const (
	maxChatMessageRunes = 4000
	summaryURLExpiry    = 24 * time.Hour
)

// ChatRequest 对应聊天接口与 WebSocket 的请求帧。
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	IsSummary bool   `json:"is_summary"`
	RoomID    uint   `json:"room_id"`
}

// SummaryResult 是总结请求的返回。
type SummaryResult struct {
	Summary   string `json:"summary"`
	SessionID string `json:"session_id"`
	CanSave   bool   `json:"can_save"`
}

// ChatbotEntry 是进入房间 AI 助手时返回的内容。
type ChatbotEntry struct {
	Room      *model.Room         `json:"room"`
	Session   *model.ChatSession  `json:"chatSession"`
	Summaries []model.ChatSummary `json:"previousSummaries"`
}

// SaveSummaryRequest 是保存总结的输入。
type SaveSummaryRequest struct {
	SessionID      string `json:"session_id"`
	SummaryContent string `json:"summary_content"`
	Title          string `json:"title"`
}

// SavedSummary 是保存后的总结及下载地址。
type SavedSummary struct {
	Summary     *model.ChatSummary `json:"summary"`
	DownloadURL string             `json:"downloadUrl"`
}

// ChatService 定义了 AI 学习助手的操作。user 可以为 nil（匿名聊天）。
type ChatService interface {
	Send(ctx context.Context, user *model.User, req ChatRequest) (string, error)
	Summarize(ctx context.Context, user *model.User, req ChatRequest) (*SummaryResult, error)
	// Stream 以 {"chunk": ...} 帧流式写出回复，最后写出完成通知。
	Stream(ctx context.Context, user *model.User, req ChatRequest, w llm.MessageWriter) error
	ChatbotEntry(user *model.User, roomID uint) (*ChatbotEntry, error)
	SaveSummary(ctx context.Context, user *model.User, req SaveSummaryRequest) (*SavedSummary, error)
}

type chatService struct {
	store          repository.ChatSessionStore
	chatRepo       repository.ChatRepository
	roomRepo       repository.RoomRepository
	enrollmentRepo repository.EnrollmentRepository
	objects        storage.ObjectStore
	llmClient      llm.Client
	cfg            config.ChatConfig
	now            func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	store repository.ChatSessionStore,
	chatRepo repository.ChatRepository,
	roomRepo repository.RoomRepository,
	enrollmentRepo repository.EnrollmentRepository,
	objects storage.ObjectStore,
	llmClient llm.Client,
	cfg config.ChatConfig,
) ChatService {
	return &chatService{
		store:          store,
		chatRepo:       chatRepo,
		roomRepo:       roomRepo,
		enrollmentRepo: enrollmentRepo,
		objects:        objects,
		llmClient:      llmClient,
		cfg:            cfg,
		now:            time.Now,
	}
}

func (s *chatService) Send(ctx context.Context, user *model.User, req ChatRequest) (string, error) {
	if err := validateChatRequest(req); err != nil {
		return "", err
	}
	if _, err := s.bindRoom(user, req); err != nil {
		return "", err
	}

	unlock, err := s.lock(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	messages, err := s.promptFor(ctx, req)
	if err != nil {
		return "", err
	}
	reply, err := s.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		log.Errorf("[ChatService] 调用 LLM 失败, session: %s, error: %v", req.SessionID, err)
		return "", fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if err := s.appendExchange(ctx, req, reply); err != nil {
		return "", err
	}
	return reply, nil
}

func (s *chatService) Summarize(ctx context.Context, user *model.User, req ChatRequest) (*SummaryResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrValidation)
	}
	row, err := s.bindRoom(user, req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	history, err := s.store.History(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	summary, err := s.llmClient.Complete(ctx, s.summaryPrompt(history), nil)
	if err != nil {
		log.Errorf("[ChatService] 生成总结失败, session: %s, error: %v", req.SessionID, err)
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	return &SummaryResult{Summary: summary, SessionID: req.SessionID, CanSave: row != nil}, nil
}

func (s *chatService) Stream(ctx context.Context, user *model.User, req ChatRequest, w llm.MessageWriter) error {
	if req.IsSummary {
		res, err := s.Summarize(ctx, user, req)
		if err != nil {
			return err
		}
		return writeJSONFrame(w, res)
	}
	if err := validateChatRequest(req); err != nil {
		return err
	}
	if _, err := s.bindRoom(user, req); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, req.SessionID)
	if err != nil {
		return err
	}
	defer unlock()

	messages, err := s.promptFor(ctx, req)
	if err != nil {
		return err
	}
	chunks := &chunkWriter{w: w}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, chunks); err != nil {
		log.Errorf("[ChatService] 流式调用 LLM 失败, session: %s, error: %v", req.SessionID, err)
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	sendCompletion(w)

	if chunks.answer.Len() > 0 {
		// 即使客户端已断开，也保存已生成的回复
		if err := s.appendExchange(context.Background(), req, chunks.answer.String()); err != nil {
			log.Errorf("[ChatService] 保存对话历史失败: %v", err)
		}
	}
	return nil
}

func (s *chatService) ChatbotEntry(user *model.User, roomID uint) (*ChatbotEntry, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, err
	}
	if err := requirePremium(s.enrollmentRepo, user, room); err != nil {
		return nil, err
	}
	session, err := s.chatRepo.GetOrCreateSession(user.ID, room.ID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	limit := s.cfg.SummaryHistory
	if limit <= 0 {
		limit = 10
	}
	summaries, err := s.chatRepo.ListSummaries(user.ID, room.ID, limit)
	if err != nil {
		return nil, err
	}
	return &ChatbotEntry{Room: room, Session: session, Summaries: summaries}, nil
}

func (s *chatService) SaveSummary(ctx context.Context, user *model.User, req SaveSummaryRequest) (*SavedSummary, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.SummaryContent) == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrValidation)
	}
	session, err := s.chatRepo.FindBySessionID(user.ID, req.SessionID)
	if isNotFound(err) {
		return nil, fmt.Errorf("chat session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Chat Summary - " + now.Format("2006-01-02 15:04")
	}
	roomTitle := ""
	if room, err := s.roomRepo.FindActiveByID(session.RoomID); err == nil {
		roomTitle = room.Title
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Chat Summary - %s\n", title)
	fmt.Fprintf(&buf, "Date: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&buf, "Room: %s\n", roomTitle)
	fmt.Fprintf(&buf, "User: %s\n", user.Username)
	buf.WriteString(strings.Repeat("=", 50) + "\n\n")
	buf.WriteString(req.SummaryContent)

	key := fmt.Sprintf("chat_summaries/summary_%d_%d_%s.txt", user.ID, session.RoomID, now.Format("20060102_150405"))
	size := int64(buf.Len())
	if err := s.objects.Put(ctx, key, &buf, size, "text/plain; charset=utf-8"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	summary := &model.ChatSummary{
		ChatSessionID:  session.ID,
		UserID:         user.ID,
		RoomID:         session.RoomID,
		Title:          title,
		SummaryContent: req.SummaryContent,
		ObjectKey:      key,
	}
	if err := s.chatRepo.CreateSummary(summary); err != nil {
		return nil, err
	}
	url, err := s.objects.PresignedURL(ctx, key, summaryURLExpiry, key[strings.LastIndex(key, "/")+1:])
	if err != nil {
		log.Warnf("[ChatService] 生成总结下载地址失败, key: %s, error: %v", key, err)
	}
	log.Infof("[ChatService] 总结已保存, user: %s, summary: %d", user.Username, summary.ID)
	return &SavedSummary{Summary: summary, DownloadURL: url}, nil
}

// bindRoom 登录用户携带房间时，把持久化会话绑定到当前 session_id。
// 返回 nil 表示没有可用于保存总结的持久化会话。
func (s *chatService) bindRoom(user *model.User, req ChatRequest) (*model.ChatSession, error) {
	if user == nil || req.RoomID == 0 {
		return nil, nil
	}
	room, err := findActiveRoom(s.roomRepo, req.RoomID)
	if err != nil {
		return nil, err
	}
	if err := requirePremium(s.enrollmentRepo, user, room); err != nil {
		return nil, err
	}
	return s.chatRepo.BindSession(user.ID, room.ID, req.SessionID)
}

func (s *chatService) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, err := s.store.Lock(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionBusy) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return unlock, err
}

// promptFor 由系统提示、历史与新消息组成完整上下文。
func (s *chatService) promptFor(ctx context.Context, req ChatRequest) ([]llm.Message, error) {
	state, _, err := s.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(state.History)+2)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: s.cfg.SystemPrompt})
	}
	for _, turn := range state.History {
		role := "user"
		if turn.Speaker == model.SpeakerAssistant {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})
	return messages, nil
}

func (s *chatService) summaryPrompt(history []model.ChatTurn) []llm.Message {
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, turn.Speaker+": "+turn.Text)
	}
	var b strings.Builder
	b.WriteString("The following is the conversation history for this session:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	b.WriteString(s.cfg.SummaryPrompt)

	messages := make([]llm.Message, 0, 2)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: s.cfg.SystemPrompt})
	}
	return append(messages, llm.Message{Role: "user", Content: b.String()})
}

func (s *chatService) appendExchange(ctx context.Context, req ChatRequest, reply string) error {
	now := s.now()
	return s.store.AppendTurns(ctx, req.SessionID,
		model.ChatTurn{Speaker: model.SpeakerUser, Text: req.Message, At: now},
		model.ChatTurn{Speaker: model.SpeakerAssistant, Text: reply, At: now},
	)
}

func validateChatRequest(req ChatRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrValidation)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: missing message", ErrValidation)
	}
	if utf8.RuneCountInString(req.Message) > maxChatMessageRunes {
		return fmt.Errorf("%w: message too long", ErrValidation)
	}
	return nil
}

// chunkWriter 捕获完整回复，并将原始分块包装成 {"chunk":"..."}。
type chunkWriter struct {
	w      llm.MessageWriter
	answer strings.Builder
}

func (c *chunkWriter) WriteMessage(messageType int, data []byte) error {
	c.answer.Write(data)
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return c.w.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(w llm.MessageWriter) {
	now := time.Now()
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
	_ = writeJSONFrame(w, notif)
}

func writeJSONFrame(w llm.MessageWriter, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, b)
}
