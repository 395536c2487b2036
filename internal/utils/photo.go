package utils

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// MaxPhotoBytes caps decoded photo size.
const MaxPhotoBytes = 5 << 20

var (
	ErrPhotoEmpty    = errors.New("photo is empty")
	ErrPhotoEncoding = errors.New("photo is not valid base64")
	ErrPhotoTooLarge = errors.New("photo exceeds 5MB")
	ErrPhotoType     = errors.New("photo is not an image")
)

// DecodePhoto accepts a data URL ("data:image/png;base64,...") or raw
// base64 and returns the bytes with their content type.  The type comes
// from the data URL header when present, otherwise it is sniffed.
func DecodePhoto(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", ErrPhotoEmpty
	}
	declared := ""
	if strings.HasPrefix(s, "data:") {
		head, payload, ok := strings.Cut(s, ";base64,")
		if !ok {
			return nil, "", ErrPhotoEncoding
		}
		declared = strings.TrimPrefix(head, "data:")
		s = payload
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err != nil {
			return nil, "", ErrPhotoEncoding
		}
	}
	return CheckPhoto(data, declared)
}

// CheckPhoto validates raw upload bytes and resolves their content type.
func CheckPhoto(data []byte, declared string) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrPhotoEmpty
	}
	if len(data) > MaxPhotoBytes {
		return nil, "", ErrPhotoTooLarge
	}
	ct := declared
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, "", ErrPhotoType
	}
	return data, ct, nil
}

// PhotoExt maps an image content type to a file extension.
func PhotoExt(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
