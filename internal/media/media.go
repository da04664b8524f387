// Package media decides whether fetched content is an image or a video and
// which file extension it should be stored under.
package media

import (
	"path/filepath"
	"strings"

	"github.com/YannKr/deepscan/internal/model"
)

// DefaultExt is used when no rule matches.
const DefaultExt = ".jpg"

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true, ".tiff": true}
	videoExts = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true}
)

type rule struct {
	match string
	ext   string
}

// Rules are evaluated in order; the first substring match wins.
var (
	urlRules = []rule{
		{".webp", ".webp"},
		{".mp4", ".mp4"},
		{".jpg", ".jpg"},
		{".jpeg", ".jpg"},
		{".png", ".png"},
	}
	contentTypeRules = []rule{
		{"webp", ".webp"},
		{"video/mp4", ".mp4"},
		{"jpeg", ".jpg"},
		{"png", ".png"},
	}
)

// Classify picks the storage extension for remote content by checking the
// URL, then the response content type, then the caller's hint. The kind
// follows from the extension, so a hint such as "gif" yields
// MediaUnsupported.
func Classify(url, contentType, hint string) (model.MediaKind, string) {
	ext := classifyExt(strings.ToLower(url), strings.ToLower(contentType), strings.ToLower(strings.TrimSpace(hint)))
	return KindForExt(ext), ext
}

func classifyExt(url, contentType, hint string) string {
	if ext, ok := firstMatch(urlRules, url); ok {
		return ext
	}
	if ext, ok := firstMatch(contentTypeRules, contentType); ok {
		return ext
	}
	if ext, ok := hintExt(hint); ok {
		return ext
	}
	return DefaultExt
}

func firstMatch(rules []rule, s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, r := range rules {
		if strings.Contains(s, r.match) {
			return r.ext, true
		}
	}
	return "", false
}

func hintExt(hint string) (string, bool) {
	switch hint {
	case "":
		return "", false
	case string(model.MediaVideo):
		return ".mp4", true
	case string(model.MediaImage):
		return ".jpg", true
	}
	// Any other hint names the extension outright, and an unknown one
	// classifies as unsupported rather than falling back to the default.
	return "." + strings.TrimPrefix(hint, "."), true
}

// KindForExt maps a dotted extension onto a media kind.
func KindForExt(ext string) model.MediaKind {
	ext = strings.ToLower(ext)
	switch {
	case imageExts[ext]:
		return model.MediaImage
	case videoExts[ext]:
		return model.MediaVideo
	default:
		return model.MediaUnsupported
	}
}

// KindForFilename classifies an uploaded file by its extension.
func KindForFilename(name string) (model.MediaKind, string) {
	ext := strings.ToLower(filepath.Ext(name))
	return KindForExt(ext), ext
}

// AllowedExtensions lists every accepted extension, images first.
func AllowedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".mp4", ".avi", ".mov", ".mkv"}
}
