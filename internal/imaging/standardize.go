package imaging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks job-scoped temporary files. Standardize takes ownership of
// such inputs and removes them once the converted copy exists.
const TempPrefix = "temp_"

// ConvertedPrefix is prepended to the stem of standardized outputs.
const ConvertedPrefix = "converted_"

// IsTemp reports whether path names a job-scoped temporary artifact.
func IsTemp(path string) bool {
	return strings.HasPrefix(filepath.Base(path), TempPrefix)
}

// ConvertedPath returns the standardized output path for path.
func ConvertedPath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), ConvertedPrefix+stem+".jpg")
}

// Standardize re-encodes the image at path as an RGB JPEG at quality 95.
//
// It never fails hard: on any decode or encode error the original path is
// returned together with the error that explains the degradation, and the
// returned path is always the one the caller should score.
func Standardize(path string) (string, error) {
	img, err := loadRGB(path)
	if err != nil {
		slog.Warn("image conversion failed", "file", filepath.Base(path), "error", err)
		return path, fmt.Errorf("standardize: %w", err)
	}

	out := ConvertedPath(path)
	if err := saveJPEG(img, out, JPEGQuality); err != nil {
		slog.Warn("image conversion failed", "file", filepath.Base(path), "error", err)
		return path, fmt.Errorf("standardize: encode: %w", err)
	}
	slog.Debug("converted image", "from", filepath.Base(path), "to", filepath.Base(out))

	if IsTemp(path) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove temp input", "file", filepath.Base(path), "error", err)
		}
	}
	return out, nil
}
