package media

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable indicates the storage provider is not configured or reachable.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)

// MetadataError means the provider metadata lookup yielded no usable download URL.
type MetadataError struct {
	MediaID string
	Err     error
}

func (e *MetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media %s metadata: %v", e.MediaID, e.Err)
	}
	return fmt.Sprintf("media %s metadata: no download url", e.MediaID)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// DownloadEmptyError means the signed URL returned no bytes.
type DownloadEmptyError struct {
	MediaID string
}

func (e *DownloadEmptyError) Error() string {
	return fmt.Sprintf("media %s download returned no content", e.MediaID)
}
