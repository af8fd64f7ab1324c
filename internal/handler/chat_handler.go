package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"innovacollab/internal/model"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
	"innovacollab/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责 AI 学习助手的 HTTP 与 WebSocket 接口。
type ChatHandler struct {
	chatService   service.ChatService
	readerService service.ReaderService
	userService   service.UserService
	jwtManager    *token.JWTManager
	maxReadBytes  int64
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, readerService service.ReaderService, userService service.UserService, jwtManager *token.JWTManager, maxReadBytes int64) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		readerService: readerService,
		userService:   userService,
		jwtManager:    jwtManager,
		maxReadBytes:  maxReadBytes,
	}
}

// Chat 处理 POST /chat：普通消息返回 {response}，总结请求返回 {summary, session_id, can_save}。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	rc := requestContext(c)

	if req.IsSummary {
		res, err := h.chatService.Summarize(c.Request.Context(), rc.User, req)
		if err != nil {
			failPlain(c, "Summarize", err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	reply, err := h.chatService.Send(c.Request.Context(), rc.User, req)
	if err != nil {
		failPlain(c, "Chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// ChatbotEntry 返回房间助手的持久化会话与最近的总结。
func (h *ChatHandler) ChatbotEntry(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entry, err := h.chatService.ChatbotEntry(requestContext(c).User, roomID)
	if err != nil {
		fail(c, "ChatbotEntry", err)
		return
	}
	success(c, entry)
}

// SaveSummary 将总结写入对象存储并返回下载地址。
func (h *ChatHandler) SaveSummary(c *gin.Context) {
	var req service.SaveSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON data"})
		return
	}
	saved, err := h.chatService.SaveSummary(c.Request.Context(), requestContext(c).User, req)
	if err != nil {
		status := statusOf(err)
		logFailure("SaveSummary", status, err)
		c.JSON(status, gin.H{"success": false, "error": messageOf(status, err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Summary saved successfully",
		"summary_id":   saved.Summary.ID,
		"download_url": saved.DownloadURL,
	})
}

// ReadFile 提取上传文件中的文本供浏览器朗读。
func (h *ChatHandler) ReadFile(c *gin.Context) {
	limitBody(c, h.maxReadBytes)
	fileHeader, err := c.FormFile("file")
	if tooLarge(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	res, err := h.readerService.Extract(c.Request.Context(), service.Upload{
		FileName: fileHeader.Filename,
		Size:     fileHeader.Size,
		Reader:   file,
	})
	if err != nil {
		failPlain(c, "ReadFile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"text":            res.Text,
		"filename":        res.FileName,
		"file_size":       res.FileSize,
		"character_count": res.CharacterCount,
	})
}

// Handle 处理一个传入的 WebSocket 连接，请求帧与 POST /chat 相同。
func (h *ChatHandler) Handle(c *gin.Context) {
	user, err := h.authenticate(c, c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)
	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var req service.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeFrame(conn, gin.H{"error": "Invalid JSON"})
			continue
		}
		if err := h.chatService.Stream(ctx, user, req, conn); err != nil {
			status := statusOf(err)
			logFailure("ChatStream", status, err)
			writeFrame(conn, gin.H{"error": messageOf(status, err)})
		}
	}
}

func (h *ChatHandler) authenticate(c *gin.Context, tokenString string) (*model.User, error) {
	claims, err := h.jwtManager.VerifyTokenOfType(tokenString, token.TypeAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := h.userService.IsTokenRevoked(c.Request.Context(), tokenString)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, service.ErrUnauthorized
	}
	profile, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		return nil, err
	}
	return profile.User, nil
}

func writeFrame(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}
