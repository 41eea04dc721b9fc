package graphcrawler

import (
	"net/url"
	"path"
	"strings"
)

// Content categories assigned by a Validator.
const (
	CategoryHTML          = "html"
	CategoryCSS           = "css"
	CategoryScript        = "script"
	CategoryImage         = "image"
	CategoryVideo         = "video"
	CategoryAudio         = "audio"
	CategoryDocument      = "document"
	CategoryUncategorized = "uncategorized"
)

// Validator classifies a fetched resource from its url and content type.
type Validator interface {
	Classify(url, contentType string) (valid bool, category string)
}

var contentTypeCategories = map[string]string{
	"text/html":                CategoryHTML,
	"application/xhtml+xml":    CategoryHTML,
	"text/css":                 CategoryCSS,
	"text/javascript":          CategoryScript,
	"application/javascript":   CategoryScript,
	"application/x-javascript": CategoryScript,
	"application/pdf":          CategoryDocument,
}

var extensionCategories = map[string]string{
	".html": CategoryHTML,
	".htm":  CategoryHTML,
	".css":  CategoryCSS,
	".js":   CategoryScript,
	".png":  CategoryImage,
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".gif":  CategoryImage,
	".svg":  CategoryImage,
	".webp": CategoryImage,
	".ico":  CategoryImage,
	".mp4":  CategoryVideo,
	".webm": CategoryVideo,
	".mp3":  CategoryAudio,
	".ogg":  CategoryAudio,
	".wav":  CategoryAudio,
	".pdf":  CategoryDocument,
}

// ContentValidator categorises by content type, falling back to the url's
// extension. A resource is invalid when its category is unknown or when its
// extension promises a different category than the server reported.
type ContentValidator struct{}

// Classify implements Validator.
func (ContentValidator) Classify(rawURL, contentType string) (bool, string) {
	byType := categoryForType(contentType)
	byExt := categoryForExtension(rawURL)

	switch {
	case byType == "" && byExt == "":
		return false, CategoryUncategorized
	case byType == "":
		return true, byExt
	case byExt != "" && byExt != byType:
		return false, byType
	}
	return true, byType
}

func categoryForType(contentType string) string {
	ct := strings.ToLower(contentType)
	if c, ok := contentTypeCategories[ct]; ok {
		return c
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return CategoryImage
	case strings.HasPrefix(ct, "video/"):
		return CategoryVideo
	case strings.HasPrefix(ct, "audio/"):
		return CategoryAudio
	}
	return ""
}

func categoryForExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return extensionCategories[strings.ToLower(path.Ext(u.Path))]
}
