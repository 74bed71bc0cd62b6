// Package imageio reads and writes raster images, normalizing orientation
// from embedded EXIF metadata on load.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// LoadError signals a missing, unreadable or undecodable input image.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load image: %v", e.Err)
	}
	return fmt.Sprintf("failed to load image %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads an image from disk, applying EXIF orientation correction.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return img, nil
}

// Decode decodes raw image bytes, applying EXIF orientation correction.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return img, nil
}

// IsImageFile reports whether the filename has a recognized image extension.
// The check is case-insensitive.
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Save writes the image to path, choosing the encoder from the extension.
// Unsupported extensions fall back to PNG; the path actually written is
// returned.
func Save(img image.Image, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
	default:
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	}
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("failed to save image %s: %w", path, err)
	}
	return path, nil
}

// EncodeJPEG encodes the image as JPEG bytes.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
