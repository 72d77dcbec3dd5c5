package offsite

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"

	"ankibak-go/internal/backup"
	"ankibak-go/internal/config"
)

type recordedRequest struct {
	method string
	path   string
	blake3 string
	body   []byte
}

func newFakeS3(t *testing.T) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	requests := &[]recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*requests = append(*requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			blake3: r.Header.Get("x-amz-meta-blake3"),
			body:   body,
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("AWS_ACCESS_KEY_ID", "test-access")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test-secret")
	return srv, requests
}

func writeSnapshot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	collectionPath := filepath.Join(dir, "collection.anki2")
	if err := os.WriteFile(collectionPath, []byte("collection payload"), 0644); err != nil {
		t.Fatalf("writing collection: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(`{"id":"b-1"}`), 0644); err != nil {
		t.Fatalf("writing metadata: %v", err)
	}
	return collectionPath
}

func TestS3Replicator_Replicate(t *testing.T) {
	srv, requests := newFakeS3(t)

	repl, err := NewS3Replicator(context.Background(), config.OffsiteConfig{
		Bucket:    "anki-backups",
		Prefix:    "prod",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		PathStyle: true,
	}, backup.NewNopLogger())
	if err != nil {
		t.Fatalf("NewS3Replicator() error = %v", err)
	}

	entry := &backup.Entry{
		ID:           "b-1",
		TimestampDir: "2024-03-01T10-00-00Z",
		ContentHash:  "abc123",
		Status:       backup.StatusCreated,
	}
	if err := repl.Replicate(context.Background(), entry, writeSnapshot(t)); err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}

	// HeadBucket plus the two uploads.
	reqs := *requests
	if len(reqs) != 3 {
		t.Fatalf("fake S3 saw %d requests, want 3", len(reqs))
	}
	if reqs[0].method != http.MethodHead || reqs[0].path != "/anki-backups" {
		t.Errorf("first request = %s %s, want HEAD /anki-backups", reqs[0].method, reqs[0].path)
	}
	wantKey := "/anki-backups/prod/2024-03-01T10-00-00Z/collection.anki2"
	if reqs[1].method != http.MethodPut || reqs[1].path != wantKey {
		t.Errorf("collection upload = %s %s, want PUT %s", reqs[1].method, reqs[1].path, wantKey)
	}
	if string(reqs[1].body) != "collection payload" {
		t.Errorf("collection body = %q, want %q", reqs[1].body, "collection payload")
	}
	if reqs[1].blake3 != "abc123" {
		t.Errorf("blake3 metadata = %q, want %q", reqs[1].blake3, "abc123")
	}
	wantMeta := "/anki-backups/prod/2024-03-01T10-00-00Z/metadata.json"
	if reqs[2].method != http.MethodPut || reqs[2].path != wantMeta {
		t.Errorf("metadata upload = %s %s, want PUT %s", reqs[2].method, reqs[2].path, wantMeta)
	}
}

func TestS3Replicator_Replicate_Encrypted(t *testing.T) {
	srv, requests := newFakeS3(t)

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	repl, err := NewS3Replicator(context.Background(), config.OffsiteConfig{
		Bucket:       "anki-backups",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		PathStyle:    true,
		AgeRecipient: identity.Recipient().String(),
	}, backup.NewNopLogger())
	if err != nil {
		t.Fatalf("NewS3Replicator() error = %v", err)
	}

	entry := &backup.Entry{
		ID:           "b-2",
		TimestampDir: "2024-03-02T10-00-00Z",
		ContentHash:  "def456",
		Status:       backup.StatusCreated,
	}
	if err := repl.Replicate(context.Background(), entry, writeSnapshot(t)); err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}

	reqs := *requests
	if len(reqs) != 3 {
		t.Fatalf("fake S3 saw %d requests, want 3", len(reqs))
	}
	wantKey := "/anki-backups/2024-03-02T10-00-00Z/collection.anki2.age"
	if reqs[1].path != wantKey {
		t.Fatalf("collection upload path = %q, want %q", reqs[1].path, wantKey)
	}

	decReader, err := age.Decrypt(bytes.NewReader(reqs[1].body), identity)
	if err != nil {
		t.Fatalf("decrypting uploaded collection: %v", err)
	}
	plain, err := io.ReadAll(decReader)
	if err != nil {
		t.Fatalf("reading decrypted collection: %v", err)
	}
	if string(plain) != "collection payload" {
		t.Errorf("decrypted collection = %q, want %q", plain, "collection payload")
	}
}

func TestNewS3Replicator_BadRecipient(t *testing.T) {
	srv, _ := newFakeS3(t)

	if _, err := NewS3Replicator(context.Background(), config.OffsiteConfig{
		Bucket:       "anki-backups",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		PathStyle:    true,
		AgeRecipient: "not-an-age-key",
	}, backup.NewNopLogger()); err == nil {
		t.Fatal("NewS3Replicator() expected error for bad age recipient")
	}
}

func TestNewFromConfig_Disabled(t *testing.T) {
	repl, err := NewFromConfig(context.Background(), config.OffsiteConfig{}, backup.NewNopLogger())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if repl != nil {
		t.Fatalf("NewFromConfig() = %v, want nil without a bucket", repl)
	}
}
