package chatstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pborman/uuid"
)

// ParseAttachmentStatus maps server values, unknown values are treated as active.
func ParseAttachmentStatus(s string) AttachmentStatus {
	switch AttachmentStatus(strings.ToLower(s)) {
	case AttachmentPending:
		return AttachmentPending
	case AttachmentExpired:
		return AttachmentExpired
	default:
		return AttachmentActive
	}
}

// Classify reports whether a MIME type renders as an image or a video.
func Classify(mimeType string) (isImage, isVideo bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "video/")
}

// ResolveURL makes `ref` absolute against `base`. Absolute refs and an empty base
// are returned unchanged.
func ResolveURL(base, ref string) string {
	if ref == "" || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// NewLocalAttachment builds a pending attachment for a file about to be uploaded.
// The MIME type is sniffed from the file content.
func NewLocalAttachment(path string) (Attachment, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("stat attachment: %w", err)
	}
	if fi.IsDir() {
		return Attachment{}, fmt.Errorf("attachment %q is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("detect attachment type: %w", err)
	}

	isImage, isVideo := Classify(mt.String())
	return Attachment{
		ID:       "local-" + uuid.New(),
		Name:     filepath.Base(path),
		MimeType: mt.String(),
		Size:     fi.Size(),
		Status:   AttachmentPending,
		IsImage:  isImage,
		IsVideo:  isVideo,
		LocalURI: (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
	}, nil
}
