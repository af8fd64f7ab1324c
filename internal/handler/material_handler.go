package handler

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// MaterialHandler 处理学习资料的增删改查、检索与文件访问。
type MaterialHandler struct {
	materialService service.MaterialService
	maxUploadBytes  int64
}

// NewMaterialHandler 创建一个新的 MaterialHandler 实例。
func NewMaterialHandler(materialService service.MaterialService, maxUploadBytes int64) *MaterialHandler {
	return &MaterialHandler{materialService: materialService, maxUploadBytes: maxUploadBytes}
}

// Create 接收 multipart 表单，file 字段可选。
func (h *MaterialHandler) Create(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, upload, cleanup, ok := bindMaterialForm(c, h.maxUploadBytes)
	if !ok {
		return
	}
	defer cleanup()

	m, err := h.materialService.Create(c.Request.Context(), requestContext(c).User, roomID, req, upload)
	if err != nil {
		fail(c, "CreateMaterial", err)
		return
	}
	created(c, m)
}

func (h *MaterialHandler) Update(c *gin.Context) {
	roomID, materialID, ok := materialIDs(c)
	if !ok {
		return
	}
	req, upload, cleanup, ok := bindMaterialForm(c, h.maxUploadBytes)
	if !ok {
		return
	}
	defer cleanup()

	m, err := h.materialService.Update(c.Request.Context(), requestContext(c).User, roomID, materialID, req, upload)
	if err != nil {
		fail(c, "UpdateMaterial", err)
		return
	}
	success(c, m)
}

func (h *MaterialHandler) Delete(c *gin.Context) {
	roomID, materialID, ok := materialIDs(c)
	if !ok {
		return
	}
	if err := h.materialService.Delete(c.Request.Context(), requestContext(c).User, roomID, materialID); err != nil {
		fail(c, "DeleteMaterial", err)
		return
	}
	success(c, nil)
}

// EditData 返回编辑表单所需的资料数据，无权限时返回 403。
func (h *MaterialHandler) EditData(c *gin.Context) {
	roomID, materialID, ok := materialIDs(c)
	if !ok {
		return
	}
	m, err := h.materialService.EditData(requestContext(c).User, roomID, materialID)
	if err != nil {
		fail(c, "MaterialEditData", err)
		return
	}
	success(c, m)
}

func (h *MaterialHandler) View(c *gin.Context) {
	roomID, materialID, ok := materialIDs(c)
	if !ok {
		return
	}
	detail, err := h.materialService.View(requestContext(c).User, roomID, materialID)
	if err != nil {
		fail(c, "ViewMaterial", err)
		return
	}
	success(c, detail)
}

// Download 以附件形式输出文件。
func (h *MaterialHandler) Download(c *gin.Context) {
	h.stream(c, "attachment", nil)
}

// Serve 以内联方式输出文件，供同源 iframe 预览。
func (h *MaterialHandler) Serve(c *gin.Context) {
	h.stream(c, "inline", map[string]string{
		"X-Frame-Options":         "SAMEORIGIN",
		"Content-Security-Policy": "frame-ancestors 'self'",
		"Cache-Control":           "no-cache, no-store, must-revalidate",
		"Pragma":                  "no-cache",
		"Expires":                 "0",
	})
}

func (h *MaterialHandler) stream(c *gin.Context, disposition string, extra map[string]string) {
	roomID, materialID, ok := materialIDs(c)
	if !ok {
		return
	}
	file, err := h.materialService.OpenFile(c.Request.Context(), requestContext(c).User, roomID, materialID)
	if err != nil {
		fail(c, "OpenMaterialFile", err)
		return
	}
	defer file.Body.Close()

	headers := map[string]string{
		"Content-Disposition": mime.FormatMediaType(disposition, map[string]string{"filename": file.FileName}),
	}
	for k, v := range extra {
		headers[k] = v
	}
	c.DataFromReader(http.StatusOK, file.Size, file.ContentType, file.Body, headers)
}

// Search 在房间内全文检索资料，结果已按访问权限过滤。
func (h *MaterialHandler) Search(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	results, err := h.materialService.Search(c.Request.Context(), requestContext(c).User, roomID, c.Query("q"))
	if err != nil {
		fail(c, "SearchMaterials", err)
		return
	}
	success(c, results)
}

func materialIDs(c *gin.Context) (uint, uint, bool) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return 0, 0, false
	}
	materialID, ok := pathID(c, "mid")
	if !ok {
		return 0, 0, false
	}
	return roomID, materialID, true
}

// bindMaterialForm 解析表单字段与可选的上传文件，cleanup 负责关闭文件。
func bindMaterialForm(c *gin.Context, maxBytes int64) (service.MaterialRequest, *service.Upload, func(), bool) {
	noop := func() {}
	var req service.MaterialRequest
	limitBody(c, maxBytes)
	if err := c.ShouldBind(&req); err != nil {
		if tooLarge(err) {
			badRequest(c, "文件过大")
			return req, nil, noop, false
		}
		log.Warnf("Material: Invalid form payload, error: %v", err)
		badRequest(c, "无效的表单数据")
		return req, nil, noop, false
	}

	fileHeader, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return req, nil, noop, true
	}
	if err != nil {
		badRequest(c, "无法读取上传文件")
		return req, nil, noop, false
	}
	f, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "无法读取上传文件")
		return req, nil, noop, false
	}
	return req, uploadOf(fileHeader, f), func() { _ = f.Close() }, true
}

func uploadOf(h *multipart.FileHeader, f multipart.File) *service.Upload {
	return &service.Upload{FileName: h.Filename, Size: h.Size, Reader: f}
}
