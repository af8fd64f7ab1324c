package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/repository"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// RoomHandler 处理房间浏览与创建。
type RoomHandler struct {
	roomService service.RoomService
}

// NewRoomHandler 创建一个新的 RoomHandler 实例。
func NewRoomHandler(roomService service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// List 支持 q、category、difficulty、page 查询参数。
func (h *RoomHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	filter := repository.RoomFilter{
		Query:      c.Query("q"),
		Category:   c.Query("category"),
		Difficulty: c.Query("difficulty"),
	}
	result, err := h.roomService.List(filter, page)
	if err != nil {
		fail(c, "ListRooms", err)
		return
	}
	success(c, result)
}

// Detail 返回房间详情，登录用户附带其报名信息。
func (h *RoomHandler) Detail(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.roomService.Detail(requestContext(c).User, roomID)
	if err != nil {
		fail(c, "RoomDetail", err)
		return
	}
	success(c, detail)
}

func (h *RoomHandler) Create(c *gin.Context) {
	var req service.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateRoom: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载")
		return
	}
	room, err := h.roomService.Create(requestContext(c).User, req)
	if err != nil {
		fail(c, "CreateRoom", err)
		return
	}
	created(c, room)
}

// MyRooms 列出当前用户担任讲师的房间及报名统计。
func (h *RoomHandler) MyRooms(c *gin.Context) {
	rooms, err := h.roomService.MyRooms(requestContext(c).User)
	if err != nil {
		fail(c, "MyRooms", err)
		return
	}
	success(c, rooms)
}
