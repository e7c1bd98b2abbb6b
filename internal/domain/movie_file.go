package domain

import (
	"path"
	"strings"
)

var movieExtensions = map[string]struct{}{
	"mp4":  {},
	"m4v":  {},
	"webm": {},
	"ogg":  {},
	"avi":  {},
	"mov":  {},
	"mkv":  {},
}

var playableExtensions = map[string]struct{}{
	"mp4": {},
	"m4v": {},
}

// SelectMovieFile returns the first file, in engine order, whose extension
// marks it as a movie.
func SelectMovieFile(files []FileRef) (FileRef, bool) {
	for _, f := range files {
		ext, err := ExtensionOf(f.Path)
		if err != nil {
			continue
		}
		if _, ok := movieExtensions[ext]; ok {
			return f, true
		}
	}
	return FileRef{}, false
}

// ExtensionOf returns the lower-cased suffix after the last dot of the base
// name. Directory components are ignored.
func ExtensionOf(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	idx := strings.LastIndexByte(base, '.')
	if idx < 0 || idx == len(base)-1 {
		return "", ErrNoExtension
	}
	return strings.ToLower(base[idx+1:]), nil
}

// IsPlayable reports whether the browser player can consume the file without
// transcoding.
func IsPlayable(f FileRef) bool {
	ext, err := ExtensionOf(f.Path)
	if err != nil {
		return false
	}
	_, ok := playableExtensions[ext]
	return ok
}

// ContentType maps a movie file extension to its MIME type.
func ContentType(name string) string {
	ext, err := ExtensionOf(name)
	if err != nil {
		return "application/octet-stream"
	}
	switch ext {
	case "mp4":
		return "video/mp4"
	case "m4v":
		return "video/x-m4v"
	case "webm":
		return "video/webm"
	case "ogg":
		return "video/ogg"
	case "avi":
		return "video/x-msvideo"
	case "mov":
		return "video/quicktime"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
