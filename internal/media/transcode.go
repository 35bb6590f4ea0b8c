package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// Transcoder converts audio the provider cannot play into a supported format.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, mimeType string) ([]byte, string, error)
}

// IsSupportedAudioFormat reports whether the provider accepts the audio MIME type as is.
func IsSupportedAudioFormat(mimeType string) bool {
	switch NormalizeMimeType(mimeType) {
	case "audio/aac", "audio/mp4", "audio/mpeg", "audio/amr", "audio/ogg":
		return true
	}
	return false
}

// FFmpegTranscoder shells out to ffmpeg and produces ogg/opus.
type FFmpegTranscoder struct {
	Path string
}

func (t FFmpegTranscoder) Transcode(ctx context.Context, data []byte, mimeType string) ([]byte, string, error) {
	if t.Path == "" {
		return nil, "", fmt.Errorf("ffmpeg path not configured")
	}
	dir, err := os.MkdirTemp("", "wagateway-audio-*")
	if err != nil {
		return nil, "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	name := uuid.NewString()
	in := filepath.Join(dir, name+ResolveFileExtension(mimeType))
	out := filepath.Join(dir, name+".ogg")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("write input: %w", err)
	}
	cmd := exec.CommandContext(ctx, t.Path, "-y", "-i", in, "-c:a", "libopus", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, "", fmt.Errorf("ffmpeg: %w: %s", err, truncate(output, 512))
	}
	converted, err := os.ReadFile(out)
	if err != nil {
		return nil, "", fmt.Errorf("read output: %w", err)
	}
	return converted, "audio/ogg", nil
}

// PrepareAudio transcodes unsupported audio when a transcoder is available.
// Other media and supported audio pass through unchanged.
func PrepareAudio(ctx context.Context, t Transcoder, data []byte, mimeType string) ([]byte, string, error) {
	if t == nil || ClassifyMediaType(mimeType) != TypeAudio || IsSupportedAudioFormat(mimeType) {
		return data, mimeType, nil
	}
	return t.Transcode(ctx, data, mimeType)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
