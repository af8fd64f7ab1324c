package model

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	MaterialPDF   = "pdf"
	MaterialVideo = "video"
	MaterialImage = "image"
	MaterialText  = "text"
	MaterialLink  = "link"
	MaterialOther = "other"

	AccessFree    = "free"
	AccessPremium = "premium"
)

// StudyMaterial 是房间内的学习资料。
type StudyMaterial struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"type:varchar(200);not null" json:"title"`
	Description  string    `gorm:"type:text" json:"description"`
	RoomID       uint      `gorm:"not null;index:idx_material_room_access" json:"roomId"`
	Room         *Room     `gorm:"foreignKey:RoomID" json:"-"`
	AuthorID     uint      `gorm:"not null;index" json:"authorId"`
	Author       *User     `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	MaterialType string    `gorm:"type:varchar(20);not null;default:other" json:"materialType"`
	AccessLevel  string    `gorm:"type:varchar(20);not null;default:free;index:idx_material_room_access" json:"accessLevel"`
	ObjectKey    string    `gorm:"type:varchar(500)" json:"-"`
	FileName     string    `gorm:"type:varchar(255)" json:"fileName"`
	ExternalLink string    `gorm:"type:varchar(500)" json:"externalLink"`
	Content      string    `gorm:"type:text" json:"content"`
	FileSize     int64     `json:"fileSize"`
	PageCount    int       `json:"pageCount"`
	Duration     string    `gorm:"type:varchar(50)" json:"duration"`
	IsActive     bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (StudyMaterial) TableName() string {
	return "study_materials"
}

// HasFile 资料是否带有已上传的文件。
func (m *StudyMaterial) HasFile() bool {
	return m.ObjectKey != ""
}

// FileExtension 返回小写的文件扩展名（不含点）。
func (m *StudyMaterial) FileExtension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(m.FileName)), ".")
}

// DetectMaterialType 根据文件扩展名推断资料类型。
func DetectMaterialType(fileName string) string {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".") {
	case "pdf":
		return MaterialPDF
	case "mp4", "avi", "mov", "wmv":
		return MaterialVideo
	case "jpg", "jpeg", "png", "gif":
		return MaterialImage
	case "txt", "doc", "docx":
		return MaterialText
	default:
		return MaterialOther
	}
}

// MaterialDocument 是写入 Elasticsearch 的资料索引文档。
type MaterialDocument struct {
	MaterialID  uint   `json:"material_id"`
	RoomID      uint   `json:"room_id"`
	AuthorID    uint   `json:"author_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TextContent string `json:"text_content"`
	AccessLevel string `json:"access_level"`
}

// MaterialSearchHit 是一次检索命中。
type MaterialSearchHit struct {
	MaterialID uint    `json:"materialId"`
	Score      float64 `json:"score"`
	Highlight  string  `json:"highlight"`
}
