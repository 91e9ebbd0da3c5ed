package assets

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/schema"
)

const maxMemory = 32 << 20

// Payload is a decoded request body
type Payload struct {
	Resources []map[string]any
	// Array is true if the resources were submitted as list
	Array   bool
	Uploads []Upload
}

var errInvalidJSON = apierror.BadRequest("Invalid JSON payload")

// Decode decodes the body of r, which is either JSON, CSV or a multipart form with a
// resource field and asset files
func Decode(r *http.Request, e *schema.Effective) (*Payload, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType := "application/json"
	if contentType != "" {
		var err error
		mediaType, _, err = mime.ParseMediaType(contentType)
		if err != nil {
			return nil, apierror.ErrUnsupportedMimeType
		}
	}

	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return decodeJSON(body)
	case "text/csv":
		resources, err := DecodeCSV(r.Body, e)
		if err != nil {
			return nil, err
		}
		return &Payload{Resources: resources, Array: true}, nil
	case "multipart/form-data":
		return decodeMultipart(r)
	}
	return nil, apierror.ErrUnsupportedMimeType
}

func decodeJSON(body []byte) (*Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apierror.ErrEmptyPayload
	}
	switch body[0] {
	case '{':
		var resource map[string]any
		if err := json.Unmarshal(body, &resource); err != nil {
			return nil, errInvalidJSON
		}
		return &Payload{Resources: []map[string]any{resource}}, nil
	case '[':
		var resources []map[string]any
		if err := json.Unmarshal(body, &resources); err != nil {
			return nil, errInvalidJSON
		}
		for _, resource := range resources {
			if resource == nil {
				return nil, errInvalidJSON
			}
		}
		return &Payload{Resources: resources, Array: true}, nil
	}
	return nil, errInvalidJSON
}

func decodeMultipart(r *http.Request) (*Payload, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, apierror.BadRequest("Invalid multipart payload")
	}
	form := r.MultipartForm

	var body []byte
	if values := form.Value["resource"]; len(values) > 0 {
		body = []byte(values[0])
	} else if files := form.File["resource"]; len(files) > 0 {
		data, err := readFile(files[0])
		if err != nil {
			return nil, err
		}
		body = data
	}
	payload, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}

	for _, header := range form.File["assets"] {
		data, err := readFile(header)
		if err != nil {
			return nil, err
		}
		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = DetectMimeType(data, header.Filename)
		}
		payload.Uploads = append(payload.Uploads, Upload{
			Filename: header.Filename,
			Mime:     mimeType,
			Data:     data,
		})
	}
	return payload, nil
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
