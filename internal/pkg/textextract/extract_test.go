package textextract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    []byte
		limits  Limits
		want    string
		wantErr error
	}{
		{name: "text", file: "notes.TXT", data: []byte("plain text body"), want: "txt"},
		{name: "too small", file: "a.txt", data: []byte("tiny"), wantErr: ErrFileTooSmall},
		{name: "too large", file: "a.txt", data: make([]byte, 64), limits: Limits{MaxBytes: 32}, wantErr: ErrFileTooLarge},
		{name: "unsupported", file: "image.png", data: []byte("0123456789abc"), wantErr: ErrUnsupportedType},
		{name: "fake pdf", file: "report.pdf", data: []byte("not really a pdf"), wantErr: ErrInvalidFormat},
		{name: "pdf magic", file: "report.pdf", data: []byte("%PDF-1.7 body"), want: "pdf"},
		{name: "fake docx", file: "letter.docx", data: []byte("not a zip archive"), wantErr: ErrInvalidFormat},
		{name: "broken json", file: "data.json", data: []byte(`{"a": 1,,}`), wantErr: ErrInvalidFormat},
		{name: "json", file: "data.json", data: []byte(`{"name": "widget"}`), want: "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.file, tt.data, tt.limits)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONToText(t *testing.T) {
	text, err := JSONToText([]byte(`{"name": "Widget", "price": 9.5, "tags": ["red", "blue"], "meta": {"active": true, "owner": null}, "empty": []}`))
	require.NoError(t, err)

	want := strings.Join([]string{
		"  name: Widget",
		"  price: 9.5",
		"  tags:",
		"    - red",
		"    - blue",
		"  meta:",
		"    active: true",
		"    owner: null",
		"  empty: []",
	}, "\n")
	assert.Equal(t, want, text)
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t, `<w:p><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p>`)

	fileType, err := Validate("letter.docx", data, Limits{})
	require.NoError(t, err)
	text, err := Extract(fileType, data)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph\nSecond", text)
}

func TestExtractEmptyDOCX(t *testing.T) {
	_, err := Extract("docx", buildDOCX(t, `<w:p></w:p>`))
	assert.ErrorIs(t, err, ErrNoText)
}

func TestExtractText(t *testing.T) {
	text, err := Extract("txt", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = Extract("exe", []byte("MZ"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Quarterly Report 2024", Title("quarterly_report-2024.pdf"))
	assert.Equal(t, "My Notes", Title("/tmp/uploads/my notes.txt"))
	assert.Equal(t, "Data.Export", Title("data.export.json"))
}
