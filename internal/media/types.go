package media

import (
	"context"
	"io"
)

// Type classifies a message by its media payload.
type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
	TypeDocument Type = "document"
)

// Valid reports whether t is one of the known media types.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeDocument:
		return true
	}
	return false
}

// Metadata is the provider's transfer description of a media object.
type Metadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256,omitempty"`
}

// DownloadOptions alters how the signed URL is fetched.
type DownloadOptions struct {
	// Identity disables transport compression and asks for the raw bytes.
	Identity bool
}

// Fetched is the result of a two-phase media fetch.
type Fetched struct {
	Data         []byte
	MimeType     string
	ExpectedSize int64
	// Short is set when the accepted payload is still below the expected size.
	Short bool
}

// Asset is a media object persisted to durable storage.
type Asset struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Type      Type   `json:"type"`
	MimeType  string `json:"mimeType"`
	FileName  string `json:"fileName"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ObjectMeta tags a stored object for later auditing.
type ObjectMeta struct {
	FileName  string
	MediaType Type
	MimeType  string
	SizeBytes int64
}

// Values renders the metadata as string tags.
func (m ObjectMeta) Values() map[string]string {
	return map[string]string{
		"original-filename": m.FileName,
		"media-type":        string(m.MediaType),
		"mime-type":         m.MimeType,
		"byte-length":       formatInt(m.SizeBytes),
	}
}

// Fetcher talks to the provider media endpoints.
type Fetcher interface {
	GetMediaMetadata(ctx context.Context, accessToken, mediaID string) (Metadata, error)
	DownloadMedia(ctx context.Context, accessToken, url string, opts DownloadOptions) ([]byte, error)
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key, tagged with meta.
	Put(ctx context.Context, key string, reader io.Reader, meta ObjectMeta) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// PublicURL returns a directly resolvable URL for a storage key.
	PublicURL(key string) string
}
