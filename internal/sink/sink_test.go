package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.pptx")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalStore(t *testing.T) {
	artifact := writeArtifact(t, "pptx-bytes")
	dest := filepath.Join(t.TempDir(), "final.pptx")

	loc, err := Local{Path: dest}.Store(context.Background(), artifact)
	require.NoError(t, err)
	assert.Equal(t, dest, loc)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "pptx-bytes", string(data))
}

func TestRemoteStore(t *testing.T) {
	artifact := writeArtifact(t, "pptx-bytes")

	var gotMethod, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	remote := Remote{PutURL: srv.URL + "/bucket/key.pptx", GetURL: "https://cdn.example.com/key.pptx"}
	loc, err := remote.Store(context.Background(), artifact)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/key.pptx", loc)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, ContentType, gotContentType)
	assert.Equal(t, "pptx-bytes", gotBody)
}

func TestRemoteStoreRejected(t *testing.T) {
	artifact := writeArtifact(t, "pptx-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "access denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Remote{PutURL: srv.URL}.Store(context.Background(), artifact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRemoteStoreMissingArtifact(t *testing.T) {
	_, err := Remote{PutURL: "http://unreachable.invalid"}.Store(context.Background(), "/no/such/file.pptx")
	assert.Error(t, err)
}
