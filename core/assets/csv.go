package assets

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// DecodeCSV reads resources from CSV. The first row names the properties. Cells are
// converted to the type the effective schema declares for their column, empty cells are
// omitted.
func DecodeCSV(r io.Reader, e *schema.Effective) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apierror.ErrEmptyPayload
	}
	if err != nil {
		return nil, apierror.BadRequest("Invalid CSV payload: %s", err.Error())
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var resources []map[string]any
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apierror.BadRequest("Invalid CSV payload: %s", err.Error())
		}
		resource := make(map[string]any, len(header))
		for i, cell := range record {
			if i >= len(header) || cell == "" {
				continue
			}
			resource[header[i]] = convertCell(cell, e.Property(header[i]))
		}
		resources = append(resources, resource)
	}
	if len(resources) == 0 {
		return nil, apierror.ErrEmptyPayload
	}
	return resources, nil
}

// convertCell converts cell to the type of property. Cells which do not convert are kept
// as string, so validation reports them.
func convertCell(cell string, property map[string]any) any {
	switch property["type"] {
	case "integer", "number":
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(cell); err == nil {
			return b
		}
	case "array", "object":
		var v any
		if err := json.Unmarshal([]byte(cell), &v); err == nil {
			return v
		}
	case "null":
		if cell == "null" {
			return nil
		}
	}
	return cell
}
