package fileHandlers

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strings"

	"serverlist-backend/internal/apierror"

	_ "golang.org/x/image/webp"
)

const maxImageSize = 5 * 1024 * 1024

type ImageKind int

const (
	GalleryImage ImageKind = iota
	CoverImage
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ValidateImage accepts jpeg, png and webp up to 5 MB. Covers must also be
// 16:9, within 0.01.
func ValidateImage(content []byte, kind ImageKind) error {
	if len(content) > maxImageSize {
		return apierror.Validation("image must not be larger than 5 MB")
	}

	if !allowedImageTypes[http.DetectContentType(content)] {
		return apierror.Validation("image must be jpeg, png or webp")
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil || config.Width == 0 || config.Height == 0 {
		return apierror.Validation("image file is invalid")
	}

	if kind == CoverImage {
		const expectedRatio = 16.0 / 9.0
		ratio := float64(config.Width) / float64(config.Height)
		if math.Abs(ratio-expectedRatio) > 0.01 {
			return apierror.Validation("cover must have a 16:9 aspect ratio")
		}
	}

	return nil
}

var compoundExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz"}

// FileExtension keeps compound extensions such as .tar.gz or .backup.tar.*
// together, otherwise it is everything from the last dot.
func FileExtension(filename string) string {
	if strings.Contains(filename, ".backup.tar.gz") {
		return ".backup.tar.gz"
	}
	if pos := strings.Index(filename, ".backup.tar"); pos >= 0 {
		return filename[pos:]
	}
	for _, ext := range compoundExtensions {
		if strings.Contains(filename, ext) {
			return ext
		}
	}

	if pos := strings.LastIndex(filename, "."); pos >= 0 {
		return filename[pos:]
	}
	return ""
}
