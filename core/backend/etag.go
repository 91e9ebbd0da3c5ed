package backend

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

func bytesToEtag(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

// ifNoneMatchFound returns true if etag is found in ifNoneMatch. The format of ifNoneMatch is one
// of the following:
// If-None-Match: "<etag_value>"
// If-None-Match: "<etag_value>", "<etag_value>", …
// If-None-Match: *
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	t := strings.Trim(etag, " \"")
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		if s == t {
			return true
		}
	}
	return false
}

// writeJSON writes v with status. Successful GET responses carry an Etag and are answered
// with 304 when the client has the current version.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	jsonData, _ := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if r.Method == http.MethodGet && status == http.StatusOK {
		etag := bytesToEtag(jsonData)
		w.Header().Set("Etag", etag)
		if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}
