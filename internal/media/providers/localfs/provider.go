// Package localfs implements media.StorageProvider on the local filesystem.
// Objects are served back by the gateway under /media/<key>, and each object
// gets a <file>.meta.json sidecar holding its metadata tags.
package localfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sectorhub/wagateway/internal/media"
)

// RoutePrefix is the HTTP path under which stored objects are served.
const RoutePrefix = "/media/"

const metaSuffix = ".meta.json"

// Provider stores media under a data root directory.
type Provider struct {
	root    string
	baseURL string
}

// New creates a filesystem provider. baseURL is the public origin of the gateway.
func New(dataRoot, baseURL string) (*Provider, error) {
	abs, err := filepath.Abs(filepath.Join(dataRoot, "media"))
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Provider{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes the object and its metadata sidecar.
func (p *Provider) Put(_ context.Context, key string, reader io.Reader, meta media.ObjectMeta) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	metaBytes, err := json.Marshal(meta.Values())
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(dest+metaSuffix, metaBytes, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	for _, target := range []string{dest, dest + metaSuffix} {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete file: %w", err)
		}
	}
	return nil
}

// Metadata reads the tags written next to an object.
func (p *Provider) Metadata(key string) (map[string]string, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(dest + metaSuffix)
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// PublicURL returns <baseURL>/media/<escaped key>.
func (p *Provider) PublicURL(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return p.baseURL + RoutePrefix + strings.Join(parts, "/")
}

// hostPath converts a storage key into a path below the root.
func (p *Provider) hostPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute key is forbidden: %s", key)
	}
	if strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", fmt.Errorf("reserved key suffix: %s", key)
	}
	joined := filepath.Join(p.root, clean)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}
