package imaging

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bep/imagemeta"
	"github.com/corona10/goimagehash"
)

var wantedEXIF = map[string]bool{
	"Software": true,
	"Make":     true,
	"Model":    true,
}

// metaFormats maps image package format names onto the containers
// imagemeta can read. Formats missing here carry no EXIF we look at.
var metaFormats = map[string]imagemeta.ImageFormat{
	"jpeg": imagemeta.JPEG,
	"png":  imagemeta.PNG,
	"webp": imagemeta.WebP,
	"tiff": imagemeta.TIFF,
}

// Fingerprint returns report metadata describing the image at path: a
// perceptual difference hash and any camera or editing-software EXIF tags.
// Missing or unreadable data yields fewer keys, never an error.
func Fingerprint(path string) map[string]any {
	out := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	if img, err := loadRGB(path); err == nil {
		if h, err := goimagehash.DifferenceHash(img); err == nil {
			out["dhash"] = fmt.Sprintf("%016x", h.GetHash())
		}
	}

	// The extension of a fetched file is a guess, so sniff the container.
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return out
	}
	format, ok := metaFormats[name]
	if !ok {
		return out
	}
	_, err = imagemeta.Decode(imagemeta.Options{
		R:           bytes.NewReader(data),
		ImageFormat: format,
		Sources:     imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return wantedEXIF[ti.Tag]
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			s := strings.TrimSpace(fmt.Sprint(ti.Value))
			if s != "" {
				out["exif_"+strings.ToLower(ti.Tag)] = s
			}
			return nil
		},
	})
	if err != nil {
		slog.Debug("read image metadata", "file", filepath.Base(path), "error", err)
	}
	return out
}
