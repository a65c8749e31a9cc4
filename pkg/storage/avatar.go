package storage

import (
	"net/http"
	"path"
	"strings"
)

var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// AvatarExtension sniffs head (the first bytes of an upload) and returns
// the file extension for supported image types.
func AvatarExtension(head []byte) (contentType, ext string, ok bool) {
	contentType = http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok = avatarTypes[contentType]
	return contentType, ext, ok
}

// AvatarKey is the object key for a user's avatar upload.
func AvatarKey(userID, id, ext string) string {
	return path.Join("avatars", userID, id+ext)
}
