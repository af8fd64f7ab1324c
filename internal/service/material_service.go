package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"innovacollab/internal/access"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/log"
	"innovacollab/pkg/storage"
	"innovacollab/pkg/tasks"
	"innovacollab/pkg/tika"
)

const searchResultSize = 20

// TaskProducer 投递资料处理任务。
type TaskProducer interface {
	ProduceMaterialTask(ctx context.Context, task tasks.MaterialProcessingTask) error
}

// MaterialSearcher 在房间内检索资料。
type MaterialSearcher interface {
	Search(ctx context.Context, roomID uint, query string, size int) ([]model.MaterialSearchHit, error)
}

// MaterialRequest 是创建或编辑资料的表单字段。
type MaterialRequest struct {
	Title        string `form:"title" json:"title"`
	Description  string `form:"description" json:"description"`
	MaterialType string `form:"material_type" json:"materialType"`
	AccessLevel  string `form:"access_level" json:"accessLevel"`
	Content      string `form:"content" json:"content"`
	ExternalLink string `form:"external_link" json:"externalLink"`
}

// Upload 是一个待保存的上传文件。
type Upload struct {
	FileName string
	Size     int64
	Reader   io.Reader
}

// MaterialDetail 是资料详情页的数据。
type MaterialDetail struct {
	Material  *model.StudyMaterial `json:"material"`
	CanEdit   bool                 `json:"canEdit"`
	IsPremium bool                 `json:"isPremium"`
}

// MaterialFile 是待输出给客户端的文件流，调用方负责关闭 Body。
type MaterialFile struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	FileName    string
}

// MaterialSearchResult 是经访问控制过滤后的检索结果。
type MaterialSearchResult struct {
	Material  model.StudyMaterial `json:"material"`
	Highlight string              `json:"highlight"`
	Score     float64             `json:"score"`
}

// MaterialService 负责学习资料的增删改查与文件访问，所有访问都经过 access 判定。
type MaterialService interface {
	Create(ctx context.Context, user *model.User, roomID uint, req MaterialRequest, file *Upload) (*model.StudyMaterial, error)
	Update(ctx context.Context, user *model.User, roomID, materialID uint, req MaterialRequest, file *Upload) (*model.StudyMaterial, error)
	Delete(ctx context.Context, user *model.User, roomID, materialID uint) error
	EditData(user *model.User, roomID, materialID uint) (*model.StudyMaterial, error)
	View(user *model.User, roomID, materialID uint) (*MaterialDetail, error)
	OpenFile(ctx context.Context, user *model.User, roomID, materialID uint) (*MaterialFile, error)
	Search(ctx context.Context, user *model.User, roomID uint, query string) ([]MaterialSearchResult, error)
}

type materialService struct {
	materialRepo   repository.MaterialRepository
	roomRepo       repository.RoomRepository
	enrollmentRepo repository.EnrollmentRepository
	objects        storage.ObjectStore
	producer       TaskProducer
	searcher       MaterialSearcher
	maxFileBytes   int64
}

// NewMaterialService 创建一个新的 MaterialService 实例。
func NewMaterialService(
	materialRepo repository.MaterialRepository,
	roomRepo repository.RoomRepository,
	enrollmentRepo repository.EnrollmentRepository,
	objects storage.ObjectStore,
	producer TaskProducer,
	searcher MaterialSearcher,
	maxFileBytes int64,
) MaterialService {
	return &materialService{
		materialRepo:   materialRepo,
		roomRepo:       roomRepo,
		enrollmentRepo: enrollmentRepo,
		objects:        objects,
		producer:       producer,
		searcher:       searcher,
		maxFileBytes:   maxFileBytes,
	}
}

func (s *materialService) Create(ctx context.Context, user *model.User, roomID uint, req MaterialRequest, file *Upload) (*model.StudyMaterial, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, err
	}
	// 所有已报名成员都可以创建资料
	if _, _, err := membership(s.enrollmentRepo, user, room); err != nil {
		return nil, err
	}

	m := &model.StudyMaterial{RoomID: room.ID, AuthorID: user.ID, IsActive: true}
	if err := applyMaterialRequest(m, req); err != nil {
		return nil, err
	}
	if file != nil {
		if err := s.attachFile(ctx, m, file); err != nil {
			return nil, err
		}
	}
	if err := s.materialRepo.Create(m); err != nil {
		if m.HasFile() {
			_ = s.objects.Remove(ctx, m.ObjectKey)
		}
		return nil, err
	}
	log.Infof("[MaterialService] 资料创建成功, material: %d, room: %d, author: %s", m.ID, room.ID, user.Username)
	s.enqueue(ctx, tasks.MaterialProcessingTask{MaterialID: m.ID, RoomID: m.RoomID, ObjectKey: m.ObjectKey, FileName: m.FileName})
	return m, nil
}

func (s *materialService) Update(ctx context.Context, user *model.User, roomID, materialID uint, req MaterialRequest, file *Upload) (*model.StudyMaterial, error) {
	m, _, err := s.editable(user, roomID, materialID)
	if err != nil {
		return nil, err
	}
	if err := applyMaterialRequest(m, req); err != nil {
		return nil, err
	}

	oldKey := m.ObjectKey
	if file != nil {
		if err := s.attachFile(ctx, m, file); err != nil {
			return nil, err
		}
	}
	if err := s.materialRepo.Update(m); err != nil {
		if file != nil {
			_ = s.objects.Remove(ctx, m.ObjectKey)
		}
		return nil, err
	}
	// 替换文件后删除旧对象
	if file != nil && oldKey != "" && oldKey != m.ObjectKey {
		if err := s.objects.Remove(ctx, oldKey); err != nil {
			log.Warnf("[MaterialService] 删除旧文件失败, key: %s, error: %v", oldKey, err)
		}
	}
	s.enqueue(ctx, tasks.MaterialProcessingTask{MaterialID: m.ID, RoomID: m.RoomID, ObjectKey: m.ObjectKey, FileName: m.FileName})
	return m, nil
}

func (s *materialService) Delete(ctx context.Context, user *model.User, roomID, materialID uint) error {
	m, _, err := s.editable(user, roomID, materialID)
	if err != nil {
		return err
	}
	if err := s.materialRepo.Delete(m.ID); err != nil {
		return err
	}
	if m.HasFile() {
		if err := s.objects.Remove(ctx, m.ObjectKey); err != nil {
			log.Warnf("[MaterialService] 删除资料文件失败, key: %s, error: %v", m.ObjectKey, err)
		}
	}
	log.Infof("[MaterialService] 资料已删除, material: %d, by: %s", m.ID, user.Username)
	s.enqueue(ctx, tasks.MaterialProcessingTask{MaterialID: m.ID, RoomID: m.RoomID, Delete: true})
	return nil
}

func (s *materialService) EditData(user *model.User, roomID, materialID uint) (*model.StudyMaterial, error) {
	m, _, err := s.editable(user, roomID, materialID)
	return m, err
}

func (s *materialService) View(user *model.User, roomID, materialID uint) (*MaterialDetail, error) {
	m, room, enrollmentType, err := s.viewable(user, roomID, materialID)
	if err != nil {
		return nil, err
	}
	return &MaterialDetail{
		Material:  m,
		CanEdit:   access.CanEdit(user, access.SubjectOf(m, room)),
		IsPremium: enrollmentType == model.EnrollmentPremium,
	}, nil
}

func (s *materialService) OpenFile(ctx context.Context, user *model.User, roomID, materialID uint) (*MaterialFile, error) {
	m, _, _, err := s.viewable(user, roomID, materialID)
	if err != nil {
		return nil, err
	}
	if !m.HasFile() {
		return nil, fmt.Errorf("no file available for material %d: %w", m.ID, ErrNotFound)
	}
	body, info, err := s.objects.Get(ctx, m.ObjectKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("file for material %d: %w", m.ID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	return &MaterialFile{
		Body:        body,
		Size:        info.Size,
		ContentType: tika.DetectMimeType(m.FileName),
		FileName:    m.FileName,
	}, nil
}

func (s *materialService) Search(ctx context.Context, user *model.User, roomID uint, query string) ([]MaterialSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, err
	}
	enrollmentType, _, err := membership(s.enrollmentRepo, user, room)
	if err != nil {
		return nil, err
	}
	hits, err := s.searcher.Search(ctx, room.ID, query, searchResultSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	results := make([]MaterialSearchResult, 0, len(hits))
	for _, hit := range hits {
		// 以数据库为准再次判定，索引中的访问级别可能已过期
		m, err := s.materialRepo.FindInRoom(room.ID, hit.MaterialID)
		if err != nil {
			continue
		}
		if !access.CanView(user, access.SubjectOf(m, room), enrollmentType) {
			continue
		}
		results = append(results, MaterialSearchResult{Material: *m, Highlight: hit.Highlight, Score: hit.Score})
	}
	return results, nil
}

// editable 加载资料并要求作者或讲师权限。
func (s *materialService) editable(user *model.User, roomID, materialID uint) (*model.StudyMaterial, *model.Room, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.findMaterial(roomID, materialID)
	if err != nil {
		return nil, nil, err
	}
	if !access.CanEdit(user, access.SubjectOf(m, room)) {
		return nil, nil, fmt.Errorf("%w: you can only modify your own materials", ErrPermissionDenied)
	}
	return m, room, nil
}

// viewable 要求房间成员身份并通过访问判定。
func (s *materialService) viewable(user *model.User, roomID, materialID uint) (*model.StudyMaterial, *model.Room, string, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, nil, "", err
	}
	m, err := s.findMaterial(roomID, materialID)
	if err != nil {
		return nil, nil, "", err
	}
	enrollmentType, _, err := membership(s.enrollmentRepo, user, room)
	if err != nil && !access.CanEdit(user, access.SubjectOf(m, room)) {
		return nil, nil, "", err
	}
	if !access.CanView(user, access.SubjectOf(m, room), enrollmentType) {
		return nil, nil, "", fmt.Errorf("%w: this material requires premium access", ErrPermissionDenied)
	}
	return m, room, enrollmentType, nil
}

func (s *materialService) findMaterial(roomID, materialID uint) (*model.StudyMaterial, error) {
	m, err := s.materialRepo.FindInRoom(roomID, materialID)
	if isNotFound(err) {
		return nil, fmt.Errorf("material %d: %w", materialID, ErrNotFound)
	}
	return m, err
}

func (s *materialService) attachFile(ctx context.Context, m *model.StudyMaterial, file *Upload) error {
	if file.Size > s.maxFileBytes {
		return fmt.Errorf("%w: file too large, maximum size is %dMB", ErrValidation, s.maxFileBytes>>20)
	}
	name := filepath.Base(file.FileName)
	key := fmt.Sprintf("materials/%d/%s%s", m.RoomID, uuid.NewString(), strings.ToLower(filepath.Ext(name)))
	if err := s.objects.Put(ctx, key, file.Reader, file.Size, tika.DetectMimeType(name)); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	m.ObjectKey = key
	m.FileName = name
	m.FileSize = file.Size
	m.PageCount = 0
	if detected := model.DetectMaterialType(name); detected != model.MaterialOther {
		m.MaterialType = detected
	}
	return nil
}

func (s *materialService) enqueue(ctx context.Context, task tasks.MaterialProcessingTask) {
	if s.producer == nil {
		return
	}
	if err := s.producer.ProduceMaterialTask(ctx, task); err != nil {
		log.Errorf("[MaterialService] 投递资料处理任务失败, material: %d, error: %v", task.MaterialID, err)
	}
}

var materialTypes = []string{
	model.MaterialPDF, model.MaterialVideo, model.MaterialImage,
	model.MaterialText, model.MaterialLink, model.MaterialOther,
}

func applyMaterialRequest(m *model.StudyMaterial, req MaterialRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 200 {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if req.MaterialType == "" {
		req.MaterialType = model.MaterialOther
	}
	if !contains(materialTypes, req.MaterialType) {
		return fmt.Errorf("%w: unknown material type %q", ErrValidation, req.MaterialType)
	}
	if req.AccessLevel == "" {
		req.AccessLevel = model.AccessFree
	}
	if req.AccessLevel != model.AccessFree && req.AccessLevel != model.AccessPremium {
		return fmt.Errorf("%w: unknown access level %q", ErrValidation, req.AccessLevel)
	}
	m.Title = title
	m.Description = strings.TrimSpace(req.Description)
	m.MaterialType = req.MaterialType
	m.AccessLevel = req.AccessLevel
	m.Content = strings.TrimSpace(req.Content)
	m.ExternalLink = strings.TrimSpace(req.ExternalLink)
	return nil
}
