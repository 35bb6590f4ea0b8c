package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// A download below 9/10 of the expected size is considered truncated and retried once.
const (
	shortDownloadNumerator   = 9
	shortDownloadDenominator = 10
)

// Resolver fetches provider media, classifies it and persists it to object storage.
type Resolver struct {
	fetcher  Fetcher
	provider StorageProvider
	logger   *slog.Logger
	maxBytes int64
}

// NewResolver creates a media resolver.
func NewResolver(log *slog.Logger, fetcher Fetcher, provider StorageProvider) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		fetcher:  fetcher,
		provider: provider,
		logger:   log.With(slog.String("service", "media")),
		maxBytes: MaxAssetBytes,
	}
}

// SetMaxBytes overrides the accepted upload size.
func (r *Resolver) SetMaxBytes(n int64) {
	if n > 0 {
		r.maxBytes = n
	}
}

// FetchMediaBytes resolves the signed URL of mediaID and downloads it.
//
// A download shorter than 90% of the advertised size is retried once with
// transport compression disabled. If the retry is still short the longer of
// the two payloads is accepted and Fetched.Short is set; callers get
// best-effort bytes rather than an error.
func (r *Resolver) FetchMediaBytes(ctx context.Context, accessToken, mediaID string) (Fetched, error) {
	if r.fetcher == nil {
		return Fetched{}, fmt.Errorf("media fetcher not configured")
	}
	meta, err := r.fetcher.GetMediaMetadata(ctx, accessToken, mediaID)
	if err != nil {
		return Fetched{}, &MetadataError{MediaID: mediaID, Err: err}
	}
	if strings.TrimSpace(meta.URL) == "" {
		return Fetched{}, &MetadataError{MediaID: mediaID}
	}

	data, err := r.fetcher.DownloadMedia(ctx, accessToken, meta.URL, DownloadOptions{})
	if err != nil {
		return Fetched{}, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	if len(data) == 0 {
		return Fetched{}, &DownloadEmptyError{MediaID: mediaID}
	}

	if isShort(len(data), meta.FileSize) {
		r.logger.Warn("media download shorter than expected, retrying",
			slog.String("media_id", mediaID),
			slog.Int("got", len(data)),
			slog.Int64("expected", meta.FileSize),
		)
		retry, retryErr := r.fetcher.DownloadMedia(ctx, accessToken, meta.URL, DownloadOptions{Identity: true})
		switch {
		case retryErr != nil:
			r.logger.Warn("media retry failed, keeping first download", slog.String("media_id", mediaID), slog.Any("error", retryErr))
		case len(retry) > len(data):
			data = retry
		}
	}

	short := isShort(len(data), meta.FileSize)
	if short {
		r.logger.Warn("accepting short media download",
			slog.String("media_id", mediaID),
			slog.Int("got", len(data)),
			slog.Int64("expected", meta.FileSize),
		)
	}
	return Fetched{
		Data:         data,
		MimeType:     NormalizeMimeType(meta.MimeType),
		ExpectedSize: meta.FileSize,
		Short:        short,
	}, nil
}

// UploadInput is the payload of UploadToStore.
type UploadInput struct {
	SectorID  int64
	Data      []byte
	MediaType Type
	MimeType  string
	FileName  string
}

// UploadToStore writes the bytes under <sector>/<media type>/<hash>/<file name>
// and returns the public URL. The object is tagged with ObjectMeta.
func (r *Resolver) UploadToStore(ctx context.Context, input UploadInput) (Asset, error) {
	if r.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	if len(input.Data) == 0 {
		return Asset{}, fmt.Errorf("asset payload is empty")
	}
	if int64(len(input.Data)) > r.maxBytes {
		return Asset{}, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, r.maxBytes)
	}
	mimeType := DetectMimeType(input.Data, input.MimeType)
	mediaType := input.MediaType
	if !mediaType.Valid() || mediaType == TypeText {
		mediaType = ClassifyMediaType(mimeType)
	}

	sum := sha256.Sum256(input.Data)
	hash := hex.EncodeToString(sum[:])
	fileName := sanitizeFileName(input.FileName)
	if fileName == "" {
		fileName = hash + ResolveFileExtension(mimeType)
	}
	key := path.Join(
		strconv.FormatInt(input.SectorID, 10),
		string(mediaType),
		hash[:16],
		fileName,
	)

	meta := ObjectMeta{
		FileName:  fileName,
		MediaType: mediaType,
		MimeType:  mimeType,
		SizeBytes: int64(len(input.Data)),
	}
	if err := r.provider.Put(ctx, key, bytes.NewReader(input.Data), meta); err != nil {
		return Asset{}, fmt.Errorf("store media: %w", err)
	}
	return Asset{
		Key:       key,
		URL:       r.provider.PublicURL(key),
		Type:      mediaType,
		MimeType:  mimeType,
		FileName:  fileName,
		SizeBytes: meta.SizeBytes,
	}, nil
}

// ResolveInput identifies one provider media object.
type ResolveInput struct {
	SectorID    int64
	AccessToken string
	MediaID     string
	MediaType   Type
	MimeType    string
	FileName    string
}

// Resolve fetches a provider media object and uploads it to storage.
func (r *Resolver) Resolve(ctx context.Context, input ResolveInput) (Asset, error) {
	fetched, err := r.FetchMediaBytes(ctx, input.AccessToken, input.MediaID)
	if err != nil {
		return Asset{}, err
	}
	mimeType := fetched.MimeType
	if mimeType == "" {
		mimeType = NormalizeMimeType(input.MimeType)
	}
	return r.UploadToStore(ctx, UploadInput{
		SectorID:  input.SectorID,
		Data:      fetched.Data,
		MediaType: input.MediaType,
		MimeType:  mimeType,
		FileName:  input.FileName,
	})
}

// ClassifyMediaType maps a MIME type or provider message type to a media type.
// Unknown, empty and binary inputs are documents.
func ClassifyMediaType(value string) Type {
	v := NormalizeMimeType(value)
	switch v {
	case "text":
		return TypeText
	case "image", "sticker":
		return TypeImage
	case "audio", "voice":
		return TypeAudio
	case "video":
		return TypeVideo
	case "", "document", "application/octet-stream":
		return TypeDocument
	}
	switch {
	case strings.HasPrefix(v, "image/"):
		return TypeImage
	case strings.HasPrefix(v, "audio/"):
		return TypeAudio
	case strings.HasPrefix(v, "video/"):
		return TypeVideo
	default:
		return TypeDocument
	}
}

// ResolveFileExtension maps a MIME type to its canonical extension, ".bin" when unknown.
func ResolveFileExtension(mimeType string) string {
	switch NormalizeMimeType(mimeType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/aac":
		return ".aac"
	case "audio/amr":
		return ".amr"
	case "audio/wav":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "video/3gpp":
		return ".3gp"
	case "video/webm":
		return ".webm"
	case "application/pdf":
		return ".pdf"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.ms-excel":
		return ".xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "application/vnd.ms-powerpoint":
		return ".ppt"
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return ".pptx"
	case "application/zip":
		return ".zip"
	case "text/plain":
		return ".txt"
	case "text/csv":
		return ".csv"
	default:
		return ".bin"
	}
}

// NormalizeMimeType lowercases a MIME type and drops parameters ("audio/ogg; codecs=opus" -> "audio/ogg").
func NormalizeMimeType(mimeType string) string {
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// DetectMimeType keeps a specific declared type and sniffs the content otherwise.
func DetectMimeType(data []byte, declared string) string {
	declared = NormalizeMimeType(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return NormalizeMimeType(mimetype.Detect(data).String())
}

func isShort(got int, expected int64) bool {
	if expected <= 0 {
		return false
	}
	return int64(got)*shortDownloadDenominator < expected*shortDownloadNumerator
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return name
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
