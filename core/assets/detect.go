package assets

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extMimeMap refines text/plain for text formats which content sniffing cannot tell apart
var extMimeMap = map[string]string{
	".md":   "text/markdown",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".svg":  "image/svg+xml",
}

// DetectMimeType detects the MIME type of content. When sniffing only yields text/plain,
// the file extension decides.
func DetectMimeType(content []byte, filename string) string {
	contentType := mimetype.Detect(content).String()
	if strings.HasPrefix(contentType, "text/plain") {
		ext := strings.ToLower(filepath.Ext(filename))
		if refined, ok := extMimeMap[ext]; ok {
			return strings.Replace(contentType, "text/plain", refined, 1)
		}
	}
	return contentType
}
