package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Security errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrBlobNotFound  = errors.New("blob not found")
	ErrBlobTooLarge  = errors.New("blob exceeds size limit")
	ErrBlockedExt    = errors.New("file extension is blocked")
)

// MaxBlobSize is the maximum allowed attachment size (25 MB)
const MaxBlobSize = 25 * 1024 * 1024

// BlockedExtensions contains file extensions that are not allowed
var BlockedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".pif": true, ".scr": true, ".vbs": true, ".js": true,
	".jar": true, ".ps1": true, ".sh": true, ".bash": true,
	".msi": true, ".dll": true, ".sys": true,
}

// BlobStorage persists inbound attachment bytes. Upload is content-addressed
// by a caller-provided key; re-uploading the same key overwrites, which keeps
// ingestion replay idempotent.
type BlobStorage interface {
	// Upload stores the blob under key and returns a stable URL for it.
	Upload(data []byte, key, mimeType string) (string, error)
	// GetURL returns the URL a stored blob is served from.
	GetURL(key string) (string, error)
	Delete(key string) error
}

// localBlobStorage implements BlobStorage on the local filesystem, serving
// blobs through the API's attachment route.
type localBlobStorage struct {
	basePath  string
	publicURL string
}

// NewLocalBlobStorage creates a filesystem-backed blob store. publicURL is
// the base the API serves attachments from, e.g. "/api/attachments".
func NewLocalBlobStorage(basePath, publicURL string) (BlobStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &localBlobStorage{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// AttachmentKey builds a deterministic storage key for an inbound attachment.
// Deriving it from the provider message id means a replayed ingestion writes
// the same key instead of accumulating copies.
func AttachmentKey(providerMessageID, filename string) string {
	ext := filepath.Ext(filename)
	if providerMessageID == "" {
		return uuid.New().String() + ext
	}
	// Namespace with a UUIDv5 so provider ids with unsafe characters never
	// reach the filesystem.
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(providerMessageID+"/"+filename))
	return id.String() + ext
}

// validateKey ensures the key resolves inside basePath (prevents traversal).
func (s *localBlobStorage) validateKey(key string) (string, error) {
	cleanPath := filepath.Clean(key)

	if filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") {
		return "", ErrPathTraversal
	}

	fullPath := filepath.Join(s.basePath, cleanPath)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid blob key: %w", err)
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) &&
		absPath != absBase {
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// ValidateAttachment checks filename extension and size before upload.
func ValidateAttachment(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))

	if BlockedExtensions[ext] {
		return ErrBlockedExt
	}
	if size > MaxBlobSize {
		return ErrBlobTooLarge
	}
	return nil
}

func (s *localBlobStorage) Upload(data []byte, key, mimeType string) (string, error) {
	if int64(len(data)) > MaxBlobSize {
		return "", ErrBlobTooLarge
	}

	fullPath, err := s.validateKey(key)
	if err != nil {
		return "", err
	}

	// Keys may carry a subdirectory prefix.
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	return s.urlFor(key), nil
}

func (s *localBlobStorage) GetURL(key string) (string, error) {
	fullPath, err := s.validateKey(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return "", ErrBlobNotFound
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}
	return s.urlFor(key), nil
}

func (s *localBlobStorage) Delete(key string) error {
	fullPath, err := s.validateKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			// Already gone; delete is idempotent.
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *localBlobStorage) urlFor(key string) string {
	return s.publicURL + "/" + key
}
