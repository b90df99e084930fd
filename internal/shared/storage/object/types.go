package object

import (
	"path"
	"strings"
)

// Categories an ingested object can belong to. They also form the first
// segment of every object key.
const (
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryDocument = "document"
	CategoryAudio    = "audio"
	CategoryFile     = "file"
)

// DefaultContentType is used for extensions missing from the MIME table.
const DefaultContentType = "application/octet-stream"

var extensionCategories = map[string]string{
	"jpg":  CategoryImage,
	"jpeg": CategoryImage,
	"png":  CategoryImage,
	"gif":  CategoryImage,
	"webp": CategoryImage,
	"svg":  CategoryImage,
	"mp4":  CategoryVideo,
	"avi":  CategoryVideo,
	"mov":  CategoryVideo,
	"webm": CategoryVideo,
	"pdf":  CategoryDocument,
	"doc":  CategoryDocument,
	"docx": CategoryDocument,
	"xls":  CategoryDocument,
	"xlsx": CategoryDocument,
	"ppt":  CategoryDocument,
	"pptx": CategoryDocument,
	"txt":  CategoryDocument,
	"mp3":  CategoryAudio,
	"wav":  CategoryAudio,
	"ogg":  CategoryAudio,
	"opus": CategoryAudio,
}

// Presentational only; browsers get octet-stream for anything unknown.
var extensionContentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"mp4":  "video/mp4",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
}

// Extension returns the lower-cased extension of fileName without the dot.
func Extension(fileName string) string {
	ext := path.Ext(strings.TrimSpace(fileName))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// CategoryForExtension maps a file extension to its category, "file" if unknown.
func CategoryForExtension(ext string) string {
	if c, ok := extensionCategories[normalizeExt(ext)]; ok {
		return c
	}
	return CategoryFile
}

// ContentTypeForExtension maps a file extension to the MIME type objects are stored with.
func ContentTypeForExtension(ext string) string {
	if ct, ok := extensionContentTypes[normalizeExt(ext)]; ok {
		return ct
	}
	return DefaultContentType
}

// CategoryForContentType derives a category from a MIME type such as "image/jpeg".
func CategoryForContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	major, _, _ := strings.Cut(ct, "/")
	switch major {
	case "image":
		return CategoryImage
	case "video":
		return CategoryVideo
	case "audio":
		return CategoryAudio
	}
	for ext, known := range extensionContentTypes {
		if known == ct {
			return CategoryForExtension(ext)
		}
	}
	return CategoryFile
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryImage, CategoryVideo, CategoryDocument, CategoryAudio, CategoryFile:
		return true
	}
	return false
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
