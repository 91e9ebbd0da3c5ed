package assets

import (
	"context"
	"errors"
	"fmt"
)

// Driver stores asset content outside of the database. Without a driver, content is stored
// inline in the asset table.
type Driver interface {
	Upload(ctx context.Context, key, mime string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// DriverType represents the different types of asset drivers
type DriverType string

// Asset driver types
const (
	// DriverTypePostgres stores asset content in the asset table
	DriverTypePostgres DriverType = "postgres"
	// DriverTypeLocal stores asset content on the local filesystem
	DriverTypeLocal DriverType = "local"
	// DriverTypeS3 stores asset content in an AWS S3 bucket
	DriverTypeS3 DriverType = "s3"
)

// ErrNotExist is returned by drivers for keys without content
var ErrNotExist = errors.New("asset content does not exist")

// Configuration contains the configuration of the asset driver
type Configuration struct {
	DriverType DriverType
	LocalPath  string
	S3         S3Configuration
}

// NewDriver returns the driver for c. It returns nil for the postgres driver type.
func NewDriver(ctx context.Context, c Configuration) (Driver, error) {
	switch c.DriverType {
	case DriverTypePostgres, "":
		return nil, nil
	case DriverTypeLocal:
		f, err := NewLocalFilesystem(c.LocalPath)
		if err != nil {
			return nil, err
		}
		return f, nil
	case DriverTypeS3:
		s, err := NewS3(ctx, c.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown asset driver type %q", c.DriverType)
}

// Key returns the storage key of an asset
func Key(appID int64, assetID string) string {
	return fmt.Sprintf("%d/assets/%s", appID, assetID)
}
