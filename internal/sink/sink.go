// Package sink finalizes a verified artifact by moving it to its
// destination: a local path or a pre-authorized remote PUT URL.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ContentType is the PPTX media type sent on remote uploads.
const ContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// Sink receives a verified artifact and returns its final location: a
// filesystem path or a download URL.
type Sink interface {
	Store(ctx context.Context, artifactPath string) (string, error)
}

// Local moves the artifact to Path on the local filesystem.
type Local struct {
	Path string
}

// Store renames the artifact into place, falling back to a copy when the
// scratch directory lives on another filesystem.
func (l Local) Store(_ context.Context, artifactPath string) (string, error) {
	if err := os.Rename(artifactPath, l.Path); err == nil {
		return l.Path, nil
	}
	src, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(l.Path)
	if err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	return l.Path, nil
}

// Remote uploads the artifact via an HTTP PUT to a pre-authorized URL
// (e.g. an S3 presigned PUT). GetURL, when set, is returned as the final
// location; otherwise the PUT URL itself is.
type Remote struct {
	PutURL string
	GetURL string
	Client *http.Client
}

// Store streams the artifact to the PUT URL.
func (r Remote) Store(ctx context.Context, artifactPath string) (string, error) {
	file, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.PutURL, file)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.ContentLength = info.Size()

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("upload failed: %s: %s", resp.Status, body)
	}

	if r.GetURL != "" {
		return r.GetURL, nil
	}
	return r.PutURL, nil
}
