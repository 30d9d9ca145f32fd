package drift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUploadBackend serves the presign, upload and confirm endpoints of the
// file lifecycle and records the order they were hit in.
func newUploadBackend(t *testing.T) (*Client, *[]string) {
	t.Helper()
	var calls []string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/files/presign", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "presign")
		var opts PresignOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		require.NotEmpty(t, opts.FileName)
		require.NotZero(t, opts.FileSize)

		json.NewEncoder(w).Encode(Result{
			OK:   true,
			Data: json.RawMessage(`{"uploadId":"u-1","url":"/api/chat/files/upload/u-1"}`),
		})
	})
	mux.HandleFunc("/api/chat/files/upload/u-1", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "upload")
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)
	})
	mux.HandleFunc("/api/chat/files/confirm", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "confirm")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "u-1", body["uploadId"])

		json.NewEncoder(w).Encode(Result{
			OK:   true,
			Data: json.RawMessage(`{"fileId":"f-1","fileName":"notes.txt","mimeType":"text/plain","fileSize":11,"cdnUrl":"https://cdn.driftapp.chat/f-1"}`),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient("test-token", WithBaseURL(srv.URL)), &calls
}

func TestFilesUpload(t *testing.T) {
	client, calls := newUploadBackend(t)

	confirmed, err := client.Chat().Files.Upload(context.Background(), []byte("hello files"), &UploadOptions{
		FileName: "notes.txt",
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"presign", "upload", "confirm"}, *calls)

	assert.Equal(t, "f-1", confirmed.FileID)
	assert.Equal(t, "notes.txt", confirmed.FileName)
	assert.Equal(t, "text/plain", confirmed.MimeType)
	assert.Equal(t, int64(11), confirmed.FileSize)
	assert.Equal(t, "https://cdn.driftapp.chat/f-1", confirmed.CdnURL)
}

func TestFilesUploadExternalURL(t *testing.T) {
	// A presign pointing at external storage: the client posts the presign
	// fields alongside the file and sends no bearer token.
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "abc123", r.FormValue("key"))
		assert.Equal(t, "private", r.FormValue("acl"))

		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "photo.webp", header.Filename)
	}))
	t.Cleanup(storage.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/files/presign", func(w http.ResponseWriter, r *http.Request) {
		presign := PresignData{
			UploadID: "u-2",
			URL:      storage.URL,
			Fields:   map[string]string{"key": "abc123", "acl": "private"},
		}
		data, _ := json.Marshal(presign)
		json.NewEncoder(w).Encode(Result{OK: true, Data: data})
	})
	mux.HandleFunc("/api/chat/files/confirm", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{
			OK:   true,
			Data: json.RawMessage(`{"fileId":"f-2","fileName":"photo.webp","mimeType":"image/webp","fileSize":4,"cdnUrl":"https://cdn.driftapp.chat/f-2"}`),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient("test-token", WithBaseURL(srv.URL))
	confirmed, err := client.Chat().Files.Upload(context.Background(), []byte("webp"), &UploadOptions{
		FileName: "photo.webp",
	})
	require.NoError(t, err)
	assert.Equal(t, "f-2", confirmed.FileID)
	// MIME came from the extension.
	assert.Equal(t, "image/webp", confirmed.MimeType)
}

func TestFilesUploadPresignRejected(t *testing.T) {
	client, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/files/presign", r.URL.Path)
		json.NewEncoder(w).Encode(Result{
			OK:    false,
			Error: &APIError{Code: "quota_exceeded", Message: "storage quota exceeded"},
		})
	})

	_, err := client.Chat().Files.Upload(context.Background(), []byte("data"), &UploadOptions{FileName: "big.bin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage quota exceeded")
}

func TestFilesUploadHTTPFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/files/presign", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{
			OK:   true,
			Data: json.RawMessage(`{"uploadId":"u-3","url":"/api/chat/files/upload/u-3"}`),
		})
	})
	mux.HandleFunc("/api/chat/files/upload/u-3", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/chat/files/confirm", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("confirm must not run after a failed upload")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient("test-token", WithBaseURL(srv.URL))
	_, err := client.Chat().Files.Upload(context.Background(), []byte("data"), &UploadOptions{FileName: "a.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload failed")
	assert.Contains(t, err.Error(), "disk full")
}

func TestFilesUploadValidation(t *testing.T) {
	client, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	ctx := context.Background()

	t.Run("missing fileName", func(t *testing.T) {
		_, err := client.Chat().Files.Upload(ctx, []byte("no name"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fileName")

		_, err = client.Chat().Files.Upload(ctx, []byte("no name"), &UploadOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fileName")
	})

	t.Run("exceeds size cap", func(t *testing.T) {
		_, err := client.Chat().Files.Upload(ctx, make([]byte, maxUploadSize+1), &UploadOptions{FileName: "huge.bin"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maximum size")
	})
}

func TestGuessMimeType(t *testing.T) {
	cases := map[string]string{
		"readme.md":   "text/markdown",
		"conf.yaml":   "text/yaml",
		"pic.webp":    "image/webp",
		"data.json":   "application/json",
		"index.html":  "text/html",
		"noext":       "application/octet-stream",
		"mystery.zzz": "application/octet-stream",
		"clip.webm":   "video/webm",
	}
	for name, want := range cases {
		got := guessMimeType(name)
		if !strings.HasPrefix(got, want) {
			t.Errorf("guessMimeType(%q) = %q, want prefix %q", name, got, want)
		}
	}
}
