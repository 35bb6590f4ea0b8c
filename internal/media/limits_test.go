package media

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		maxBytes int64
		tooLarge bool
	}{
		{name: "within limit", payload: "hello", maxBytes: 8},
		{name: "exact limit", payload: "12345", maxBytes: 5},
		{name: "one byte over", payload: "123456", maxBytes: 5, tooLarge: true},
		{name: "non-positive limit uses default", payload: "abc", maxBytes: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadAllWithLimit(strings.NewReader(tt.payload), tt.maxBytes)
			if tt.tooLarge {
				if !errors.Is(err, ErrAssetTooLarge) {
					t.Fatalf("expected ErrAssetTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, []byte(tt.payload)) {
				t.Fatalf("unexpected payload: %q", got)
			}
		})
	}
}

func TestCheckSendSize(t *testing.T) {
	t.Parallel()

	if err := CheckSendSize(TypeImage, 5*1024*1024); err != nil {
		t.Fatalf("image at limit rejected: %v", err)
	}
	if err := CheckSendSize(TypeImage, 5*1024*1024+1); !errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("oversized image accepted: %v", err)
	}
	if err := CheckSendSize(TypeDocument, 20*1024*1024); err != nil {
		t.Fatalf("document rejected: %v", err)
	}
	if SendLimit(TypeText) != MaxAssetBytes {
		t.Fatalf("unexpected fallback limit %d", SendLimit(TypeText))
	}
}
