package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"innovacollab/pkg/tika"
)

const truncatedSuffix = "... (content truncated for performance)"

// ReadAloudResult 是朗读功能提取出的文本。
type ReadAloudResult struct {
	Text           string `json:"text"`
	FileName       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	CharacterCount int    `json:"character_count"`
}

// ReaderService 为朗读功能提取上传文件中的文本。
type ReaderService interface {
	Extract(ctx context.Context, file Upload) (*ReadAloudResult, error)
}

type readerService struct {
	extractor tika.Extractor
	maxBytes  int64
	maxChars  int
}

// NewReaderService 创建一个新的 ReaderService 实例。
func NewReaderService(extractor tika.Extractor, maxBytes int64, maxChars int) ReaderService {
	return &readerService{extractor: extractor, maxBytes: maxBytes, maxChars: maxChars}
}

func (s *readerService) Extract(ctx context.Context, file Upload) (*ReadAloudResult, error) {
	if file.Size > s.maxBytes {
		return nil, fmt.Errorf("%w: file too large, maximum size is %dMB", ErrValidation, s.maxBytes>>20)
	}
	data, err := io.ReadAll(io.LimitReader(file.Reader, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload: %v", ErrValidation, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: file too large, maximum size is %dMB", ErrValidation, s.maxBytes>>20)
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(file.FileName)); ext {
	case ".txt":
		text = decodeText(data)
	case ".pdf", ".doc", ".docx":
		text, err = s.extractor.ExtractText(ctx, bytes.NewReader(data), file.FileName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported file type, please upload .txt, .pdf, .doc, or .docx files", ErrValidation)
	}

	text = NormalizeSpeechText(text, s.maxChars)
	if text == "" {
		return nil, fmt.Errorf("%w: no readable text found in the file", ErrValidation)
	}
	return &ReadAloudResult{
		Text:           text,
		FileName:       filepath.Base(file.FileName),
		FileSize:       int64(len(data)),
		CharacterCount: utf8.RuneCountInString(text),
	}, nil
}

// decodeText 优先按 UTF-8 解码，失败时回退为 Latin-1。
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, nil))
	}
	return string(out)
}

// NormalizeSpeechText 合并所有空白为单个空格，并按字符数截断。
func NormalizeSpeechText(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars]) + truncatedSuffix
	}
	return text
}
