package repository

import (
	"gorm.io/gorm"
	"innovacollab/internal/model"
)

// MaterialRepository 定义了学习资料的持久化操作。
type MaterialRepository interface {
	Create(m *model.StudyMaterial) error
	Update(m *model.StudyMaterial) error
	Delete(id uint) error
	// FindInRoom 查找属于指定房间的激活资料，预加载房间与作者。
	FindInRoom(roomID, materialID uint) (*model.StudyMaterial, error)
	FindByID(id uint) (*model.StudyMaterial, error)
	ListByRoom(roomID uint) ([]model.StudyMaterial, error)
	UpdateExtraction(id uint, pageCount int) error
}

type materialRepository struct {
	db *gorm.DB
}

// NewMaterialRepository 创建一个新的 MaterialRepository 实例。
func NewMaterialRepository(db *gorm.DB) MaterialRepository {
	return &materialRepository{db: db}
}

func (r *materialRepository) Create(m *model.StudyMaterial) error {
	return r.db.Create(m).Error
}

func (r *materialRepository) Update(m *model.StudyMaterial) error {
	return r.db.Omit("Room", "Author").Save(m).Error
}

func (r *materialRepository) Delete(id uint) error {
	return r.db.Delete(&model.StudyMaterial{}, id).Error
}

func (r *materialRepository) FindInRoom(roomID, materialID uint) (*model.StudyMaterial, error) {
	var m model.StudyMaterial
	err := r.db.Preload("Room").Preload("Author").
		Where("id = ? AND room_id = ? AND is_active = ?", materialID, roomID, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepository) FindByID(id uint) (*model.StudyMaterial, error) {
	var m model.StudyMaterial
	if err := r.db.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepository) ListByRoom(roomID uint) ([]model.StudyMaterial, error) {
	var list []model.StudyMaterial
	err := r.db.Preload("Author").
		Where("room_id = ? AND is_active = ?", roomID, true).
		Order("created_at DESC").Find(&list).Error
	return list, err
}

func (r *materialRepository) UpdateExtraction(id uint, pageCount int) error {
	return r.db.Model(&model.StudyMaterial{}).Where("id = ?", id).Update("page_count", pageCount).Error
}
