// Package textextract validates uploaded files and turns them into plain text.
package textextract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	DefaultMaxBytes = 25 << 20
	DefaultMinBytes = 10
)

var DefaultAllowedTypes = []string{"txt", "pdf", "docx", "json"}

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileTooSmall    = errors.New("file is too small or empty")
	ErrInvalidFormat   = errors.New("invalid file format")
	ErrNoText          = errors.New("file contains no extractable text content")
)

type Limits struct {
	MaxBytes     int64
	MinBytes     int64
	AllowedTypes []string
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MinBytes <= 0 {
		l.MinBytes = DefaultMinBytes
	}
	if len(l.AllowedTypes) == 0 {
		l.AllowedTypes = DefaultAllowedTypes
	}
	return l
}

// FileType is the lowercased extension of name without the dot.
func FileType(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Validate checks size, extension and content signature and returns the file
// type.
func Validate(name string, data []byte, limits Limits) (string, error) {
	limits = limits.withDefaults()
	size := int64(len(data))
	if size > limits.MaxBytes {
		return "", fmt.Errorf("%w: maximum size is %dMB", ErrFileTooLarge, limits.MaxBytes>>20)
	}
	if size < limits.MinBytes {
		return "", ErrFileTooSmall
	}

	fileType := FileType(name)
	allowed := false
	for _, t := range limits.AllowedTypes {
		if t == fileType {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w '%s'. Supported types: %s", ErrUnsupportedType, fileType,
			strings.ToUpper(strings.Join(limits.AllowedTypes, ", ")))
	}

	switch fileType {
	case "pdf":
		if len(data) < 2 || data[0] != '%' || data[1] != 'P' {
			return "", fmt.Errorf("%w: not a pdf", ErrInvalidFormat)
		}
	case "docx":
		if len(data) < 2 || data[0] != 'P' || data[1] != 'K' {
			return "", fmt.Errorf("%w: not a docx", ErrInvalidFormat)
		}
	case "json":
		if _, err := JSONToText(data); err != nil {
			return "", err
		}
	}
	return fileType, nil
}

// Extract returns the text content of data for a validated file type.
func Extract(fileType string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch fileType {
	case "txt":
		text = string(data)
	case "pdf":
		text, err = extractPDF(data)
	case "docx":
		text, err = extractDOCX(data)
	case "json":
		text, err = JSONToText(data)
	default:
		return "", fmt.Errorf("%w '%s'", ErrUnsupportedType, fileType)
	}
	if err != nil {
		return "", err
	}
	if (fileType == "pdf" || fileType == "docx") && strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", strings.ToUpper(fileType), ErrNoText)
	}
	return text, nil
}

// Title derives a display title from a file name: the extension is dropped,
// underscores and dashes become spaces and every word is capitalised.
func Title(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)

	runes := []rune(base)
	prevWord := false
	for i, r := range runes {
		word := r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
		if word && !prevWord {
			runes[i] = unicode.ToUpper(r)
		}
		prevWord = word
	}
	return string(runes)
}
