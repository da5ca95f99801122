package models

import (
	"path/filepath"
	"strings"
)

// Categories is the fixed taxonomy files are sorted into.
var Categories = []string{
	"image", "video", "audio", "document",
	"spreadsheet", "presentation", "archive", "code", "other",
}

// ValidCategory reports whether c is part of the taxonomy.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

var categoryByMime = map[string]string{
	"image/jpeg": "image", "image/png": "image", "image/gif": "image",
	"image/webp": "image", "image/svg+xml": "image",
	"video/mp4": "video", "video/mpeg": "video", "video/quicktime": "video",
	"video/webm": "video",
	"audio/mpeg": "audio", "audio/mp4": "audio", "audio/ogg": "audio",
	"audio/wav": "audio", "audio/webm": "audio",
	"application/pdf": "document", "application/msword": "document",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "document",
	"application/vnd.ms-excel": "spreadsheet",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "spreadsheet",
	"application/vnd.ms-powerpoint": "presentation",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "presentation",
	"application/zip": "archive", "application/x-rar-compressed": "archive",
	"application/x-tar": "archive", "application/gzip": "archive",
	"text/plain": "code", "application/json": "code", "text/html": "code",
	"text/css": "code", "application/javascript": "code",
}

var categoryByExt = map[string]string{
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image",
	".webp": "image", ".svg": "image",
	".mp4": "video", ".mpeg": "video", ".mov": "video", ".webm": "video",
	".avi": "video", ".mkv": "video",
	".mp3": "audio", ".m4a": "audio", ".ogg": "audio", ".wav": "audio",
	".flac": "audio",
	".pdf": "document", ".doc": "document", ".docx": "document",
	".txt": "document", ".rtf": "document",
	".xls": "spreadsheet", ".xlsx": "spreadsheet", ".csv": "spreadsheet",
	".ppt": "presentation", ".pptx": "presentation",
	".zip": "archive", ".rar": "archive", ".tar": "archive", ".gz": "archive",
	".7z": "archive",
	".py": "code", ".js": "code", ".html": "code", ".css": "code",
	".json": "code", ".xml": "code", ".java": "code", ".c": "code",
	".cpp": "code",
}

// Categorize picks a category from the content type, falling back to the file
// extension, then to "other".
func Categorize(name, mimeType string) string {
	if c, ok := categoryByMime[mimeType]; ok {
		return c
	}
	ext := strings.ToLower(filepath.Ext(name))
	if c, ok := categoryByExt[ext]; ok {
		return c
	}
	return "other"
}
