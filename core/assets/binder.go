// Package assets binds uploaded files to binary properties of resources, decodes resource
// payloads and stores asset blobs.
package assets

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/relabs-tech/tenantkit/core/schema"
)

// Upload is a file uploaded along with resources
type Upload struct {
	Filename string
	Mime     string
	Data     []byte
}

// Asset is an upload bound to the resource at index Resource of the payload
type Asset struct {
	ID       string
	Resource int
	Upload   *Upload
}

// Reference is a binary property value pointing to an existing asset
type Reference struct {
	ID       string
	Resource int
	Path     []any
}

var indexRegexp = regexp.MustCompile(`^\d+$`)

// Bind replaces upload indices in the binary properties of resources with the ids of new
// assets. Values which are no index are returned as references to existing assets, which
// the caller must verify.
//
// Every upload must be referenced exactly once.
func Bind(e *schema.Effective, resources []map[string]any, uploads []Upload, array bool) ([]Asset, []Reference, []schema.ValidationError) {
	var (
		assets     []Asset
		references []Reference
		errs       []schema.ValidationError
	)
	claimed := make(map[int]bool, len(uploads))

	bind := func(i int, path []any, value any) any {
		s, ok := value.(string)
		if !ok {
			return value
		}
		if array {
			path = append([]any{i}, path...)
		}
		if !indexRegexp.MatchString(s) {
			references = append(references, Reference{ID: s, Resource: i, Path: path})
			return value
		}
		index, err := strconv.Atoi(s)
		if err != nil || index >= len(uploads) {
			errs = append(errs, schema.NewValidationError(path, "binary",
				fmt.Sprintf("refers to asset %s which was not uploaded", s), value, nil))
			return value
		}
		if claimed[index] {
			errs = append(errs, schema.NewValidationError(path, "binary",
				fmt.Sprintf("is a duplicate reference to asset %d", index), value, nil))
			return value
		}
		claimed[index] = true
		id := uuid.NewString()
		assets = append(assets, Asset{ID: id, Resource: i, Upload: &uploads[index]})
		return id
	}

	for i, resource := range resources {
		for _, property := range sortedBinary(e) {
			value, ok := resource[property]
			if !ok || value == nil {
				continue
			}
			if !e.Binary[property] {
				resource[property] = bind(i, []any{property}, value)
				continue
			}
			items, ok := value.([]any)
			if !ok {
				continue
			}
			for j, item := range items {
				items[j] = bind(i, []any{property, j}, item)
			}
		}
	}

	for index := range uploads {
		if !claimed[index] {
			errs = append(errs, schema.NewValidationError([]any{"assets", index}, "binary",
				"is not referenced from the resource", nil, nil))
		}
	}
	return assets, references, errs
}

// MissingAsset returns the validation error for a reference to an asset which does not
// exist in the app
func MissingAsset(ref Reference) schema.ValidationError {
	return schema.NewValidationError(ref.Path, "binary",
		`does not conform to the "binary" format`, ref.ID, "binary")
}

// IDs returns the asset ids referenced by the binary properties of data
func IDs(e *schema.Effective, data map[string]any) []string {
	var ids []string
	for _, property := range sortedBinary(e) {
		switch v := data[property].(type) {
		case string:
			ids = append(ids, v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					ids = append(ids, s)
				}
			}
		}
	}
	return ids
}

// Dereferenced returns the asset ids referenced by before which after no longer references
func Dereferenced(e *schema.Effective, before, after map[string]any) []string {
	kept := map[string]bool{}
	for _, id := range IDs(e, after) {
		kept[id] = true
	}
	var dropped []string
	for _, id := range IDs(e, before) {
		if !kept[id] {
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func sortedBinary(e *schema.Effective) []string {
	var names []string
	for _, name := range e.UserProperties() {
		if _, ok := e.Binary[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
