package media

import (
	"fmt"
	"io"
)

// MaxAssetBytes caps any single download or upload.
const MaxAssetBytes int64 = 100 * 1024 * 1024

// Cloud API send limits per media type.
var sendLimits = map[Type]int64{
	TypeImage:    5 * 1024 * 1024,
	TypeAudio:    16 * 1024 * 1024,
	TypeVideo:    16 * 1024 * 1024,
	TypeDocument: MaxAssetBytes,
}

// SendLimit returns the largest payload the provider accepts for an outbound
// message of type t.
func SendLimit(t Type) int64 {
	if n, ok := sendLimits[t]; ok {
		return n
	}
	return MaxAssetBytes
}

// CheckSendSize rejects data the provider would refuse for type t.
func CheckSendSize(t Type, size int64) error {
	if limit := SendLimit(t); size > limit {
		return fmt.Errorf("%w: %s payload is %d bytes, max %d", ErrAssetTooLarge, t, size, limit)
	}
	return nil
}

// ReadAllWithLimit reads at most maxBytes from reader. One byte past the
// limit is enough to fail with ErrAssetTooLarge.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("nil reader")
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAssetTooLarge, maxBytes)
	}
	return data, nil
}
