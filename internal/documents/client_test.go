package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadMapsFileNamesToURLs(t *testing.T) {
	var gotNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/documents", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File["files"] {
			gotNames = append(gotNames, fh.Filename)
			f, err := fh.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			f.Close()
			assert.NotEmpty(t, data)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"files": map[string]string{
				"1111002.pdf": "http://localhost:8080/documents/0fa1ab60-f836-43aa-8c65-b07cc9bebcbe",
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	urls, err := client.Upload(context.Background(), []Pdf{
		{Name: "1111002.pdf", Data: []byte("%PDF-1.4 content")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"1111002.pdf"}, gotNames)
	assert.Equal(t, "http://localhost:8080/documents/0fa1ab60-f836-43aa-8c65-b07cc9bebcbe", urls["1111002.pdf"])
}

func TestUploadNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Upload(context.Background(), []Pdf{{Name: "a.pdf", Data: []byte("x")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestUploadMissingFilesEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Upload(context.Background(), []Pdf{{Name: "a.pdf", Data: []byte("x")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files entry")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	pdfs := []Pdf{{Name: "a.pdf", Data: []byte("x")}}

	for i := 0; i < 3; i++ {
		_, err := client.Upload(context.Background(), pdfs)
		require.Error(t, err)
	}
	require.Equal(t, 3, hits)

	// Fourth call short-circuits without reaching the wire.
	_, err := client.Upload(context.Background(), pdfs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 3, hits)
}
