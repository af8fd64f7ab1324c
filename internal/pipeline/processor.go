// Package pipeline 定义了学习资料的文本提取与索引流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/log"
	"innovacollab/pkg/storage"
	"innovacollab/pkg/tasks"
	"innovacollab/pkg/tika"
)

const (
	// maxIndexedRunes 限制写入索引的正文长度
	maxIndexedRunes = 200000
	charsPerPage    = 3000
)

// MaterialIndexer 是资料全文索引的写入端。
type MaterialIndexer interface {
	Index(ctx context.Context, doc model.MaterialDocument) error
	Delete(ctx context.Context, materialID uint) error
}

// Processor 封装了资料处理的所有依赖和逻辑。
type Processor struct {
	extractor    tika.Extractor
	store        storage.ObjectStore
	index        MaterialIndexer
	materialRepo repository.MaterialRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractor tika.Extractor,
	store storage.ObjectStore,
	index MaterialIndexer,
	materialRepo repository.MaterialRepository,
) *Processor {
	return &Processor{
		extractor:    extractor,
		store:        store,
		index:        index,
		materialRepo: materialRepo,
	}
}

// Process 是资料处理的主函数，实现 kafka.TaskProcessor。
func (p *Processor) Process(ctx context.Context, task tasks.MaterialProcessingTask) error {
	if task.Delete {
		log.Infof("[Processor] 从索引中移除资料, MaterialID: %d", task.MaterialID)
		return p.index.Delete(ctx, task.MaterialID)
	}
	log.Infof("[Processor] 开始处理资料, MaterialID: %d, FileName: %s", task.MaterialID, task.FileName)

	// 1. 读取资料元数据，资料已被删除时直接结束
	material, err := p.materialRepo.FindByID(task.MaterialID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Processor] 资料 %d 已不存在, 跳过", task.MaterialID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取资料失败: %w", err)
	}

	doc := model.MaterialDocument{
		MaterialID:  material.ID,
		RoomID:      material.RoomID,
		AuthorID:    material.AuthorID,
		Title:       material.Title,
		Description: material.Description,
		TextContent: material.Content,
		AccessLevel: material.AccessLevel,
	}

	// 2. 文件已被替换时以资料上的最新 key 为准
	if material.HasFile() && material.ObjectKey == task.ObjectKey {
		text, err := p.extract(ctx, material)
		if err != nil {
			return err
		}
		if text != "" {
			doc.TextContent = strings.TrimSpace(doc.TextContent + "\n" + text)
			pages := estimatePageCount(text)
			if err := p.materialRepo.UpdateExtraction(material.ID, pages); err != nil {
				log.Warnf("[Processor] 更新资料页数失败, MaterialID: %d, Error: %v", material.ID, err)
			}
		}
	}
	doc.TextContent = truncateRunes(doc.TextContent, maxIndexedRunes)

	// 3. 写入 Elasticsearch
	if err := p.index.Index(ctx, doc); err != nil {
		log.Errorf("[Processor] 索引资料到Elasticsearch失败, MaterialID: %d, Error: %v", material.ID, err)
		return fmt.Errorf("索引资料失败: %w", err)
	}
	log.Infof("[Processor] 资料处理成功完成, MaterialID: %d, 文本长度: %d", material.ID, utf8.RuneCountInString(doc.TextContent))
	return nil
}

// extract 从对象存储下载文件并交给 Tika。图片、视频等不可提取的类型返回空串。
func (p *Processor) extract(ctx context.Context, m *model.StudyMaterial) (string, error) {
	if m.MaterialType == model.MaterialImage || m.MaterialType == model.MaterialVideo {
		return "", nil
	}
	obj, _, err := p.store.Get(ctx, m.ObjectKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		log.Warnf("[Processor] 资料文件不存在, Object: %s", m.ObjectKey)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(obj); err != nil {
		return "", fmt.Errorf("读取对象流失败: %w", err)
	}
	if buf.Len() == 0 {
		return "", nil
	}

	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), m.FileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", m.FileName, err)
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func estimatePageCount(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerPage - 1) / charsPerPage
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
