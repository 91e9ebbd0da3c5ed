package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/tenantkit/core/logger"
)

// LocalFilesystem stores asset content below a base folder
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem
func NewLocalFilesystem(baseFolder string) (*LocalFilesystem, error) {
	if baseFolder == "" {
		return nil, fmt.Errorf("base folder must not be empty")
	}
	if err := os.MkdirAll(baseFolder, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("local asset storage enabled in", baseFolder)
	return &LocalFilesystem{baseFolder: baseFolder}, nil
}

func (f *LocalFilesystem) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key '%s'", key)
	}
	return filepath.Join(f.baseFolder, key, "file"), nil
}

// Upload writes data to the key file
func (f *LocalFilesystem) Upload(ctx context.Context, key, mime string, data []byte) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0600)
}

// Download reads the key file
func (f *LocalFilesystem) Download(ctx context.Context, key string) ([]byte, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

// Delete deletes the key file
func (f *LocalFilesystem) Delete(ctx context.Context, key string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Dir(filePath))
}
