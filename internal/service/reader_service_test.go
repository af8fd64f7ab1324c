package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSpeechText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeSpeechText("  a\n\n b\t\tc  ", 0))
	assert.Equal(t, "héll"+truncatedSuffix, NormalizeSpeechText("héllo world", 4))
	assert.Equal(t, "short", NormalizeSpeechText("short", 10))
}

func TestExtract_PlainText(t *testing.T) {
	svc := NewReaderService(&fakeExtractor{}, 1<<20, 100)

	res, err := svc.Extract(context.Background(), Upload{FileName: "notes.txt", Size: 12, Reader: strings.NewReader("hello\n\nworld")})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "notes.txt", res.FileName)
	assert.Equal(t, int64(12), res.FileSize)
	assert.Equal(t, 11, res.CharacterCount)
}

func TestExtract_Latin1Fallback(t *testing.T) {
	svc := NewReaderService(&fakeExtractor{}, 1<<20, 100)

	res, err := svc.Extract(context.Background(), Upload{FileName: "menu.TXT", Size: 4, Reader: strings.NewReader("caf\xe9")})
	require.NoError(t, err)
	assert.Equal(t, "café", res.Text)
	assert.Equal(t, 4, res.CharacterCount)
}

func TestExtract_DocumentsUseExtractor(t *testing.T) {
	ex := &fakeExtractor{text: "Chapter 1\n  Introduction"}
	svc := NewReaderService(ex, 1<<20, 100)

	res, err := svc.Extract(context.Background(), Upload{FileName: "book.pdf", Size: 4, Reader: strings.NewReader("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1 Introduction", res.Text)
	assert.Equal(t, 1, ex.calls)
}

func TestExtract_Rejections(t *testing.T) {
	ex := &fakeExtractor{}
	svc := NewReaderService(ex, 8, 100)
	ctx := context.Background()

	_, err := svc.Extract(ctx, Upload{FileName: "song.mp3", Size: 3, Reader: strings.NewReader("abc")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Extract(ctx, Upload{FileName: "big.txt", Size: 9, Reader: strings.NewReader("123456789")})
	assert.ErrorIs(t, err, ErrValidation)

	// 声明的大小可能不可信，以实际读取为准
	_, err = svc.Extract(ctx, Upload{FileName: "big.txt", Size: 1, Reader: strings.NewReader("123456789")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Extract(ctx, Upload{FileName: "blank.pdf", Size: 4, Reader: strings.NewReader("%PDF")})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 1, ex.calls)
}
