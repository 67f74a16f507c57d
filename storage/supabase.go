package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
)

// FetchError reports a remote fetch that returned a non-success status.
// It is distinct from transport errors so callers can tell "the object is
// gone" apart from "the network is down".
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("remote fetch of %s returned status %d", e.URL, e.Status)
}

// SupabaseStore implements ContentStore against the Supabase Storage REST
// API. Objects are uploaded with upsert semantics and addressed by their
// public URL.
type SupabaseStore struct {
	baseURL string // e.g. https://xyz.supabase.co
	apiKey  string
	client  *http.Client
}

func NewSupabaseStore(baseURL, apiKey string) *SupabaseStore {
	return &SupabaseStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  http.DefaultClient,
	}
}

func (s *SupabaseStore) Put(ctx context.Context, bucket, folder, name string, data []byte, contentType string) (string, error) {
	if bucket == "" || name == "" {
		return "", fmt.Errorf("bucket and name cannot be empty for storing content")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := timestampedName(name)
	if folder != "" {
		key = folder + "/" + key
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload to %s/%s failed: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload to %s/%s returned status %d: %s", bucket, key, resp.StatusCode, string(respBody))
	}

	publicURL := fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, bucket, key)
	log.Printf("INFO (SupabaseStore): Uploaded %d bytes to %s/%s", len(data), bucket, key)
	return publicURL, nil
}

func (s *SupabaseStore) Get(ctx context.Context, ref string) ([]byte, error) {
	r := ClassifyRef(ref)
	if !r.IsRemote() {
		// Template references persisted before remote storage was configured
		// may still be plain local paths.
		local := &LocalFileStore{basePath: ""}
		return local.Get(ctx, ref)
	}
	return fetchURL(ctx, r.String())
}

func (s *SupabaseStore) Delete(ctx context.Context, bucket, key string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete of %s/%s failed: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete of %s/%s returned status %d", bucket, key, resp.StatusCode)
	}
	return nil
}

// fetchURL downloads a remote object. Non-success statuses yield a
// *FetchError so callers never mistake an error page for object bytes.
func fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request for %s: %w", rawURL, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch of %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", rawURL, err)
	}
	return data, nil
}
