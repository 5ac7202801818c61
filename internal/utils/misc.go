package utils

import (
	"net/url"
	"path"
	"strings"
)

func Contains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

func Mask(text string) string {
	res := ""
	if len(text) > 12 {
		res = text[:8] + "****" + text[len(text)-4:]
	} else if len(text) > 8 {
		res = text[:4] + "****" + text[len(text)-2:]
	} else {
		res = "****"
	}
	return res
}

// FilenameFromURL returns the URL-decoded last path segment of a download
// link. Query strings and fragments are ignored.
func FilenameFromURL(link string) string {
	if u, err := url.Parse(link); err == nil {
		if name, err := url.PathUnescape(path.Base(u.Path)); err == nil {
			return name
		}
		return path.Base(u.Path)
	}
	// Not a parsable URL, fall back to the raw last segment
	if idx := strings.LastIndex(link, "/"); idx >= 0 {
		return link[idx+1:]
	}
	return link
}

// RemoveExtension strips the final extension from a filename.
func RemoveExtension(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}
