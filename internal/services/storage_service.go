package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/attachment"
)

// StoredObject is a blob accepted by a StorageService.
type StoredObject struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type StorageService interface {
	UploadFile(ctx context.Context, file io.Reader, filename string, folder string) (*StoredObject, error)
	DeleteFile(ctx context.Context, fileURL string) error
	// SignedURL returns a URL that grants read access to a stored object for
	// expiresIn.
	SignedURL(ctx context.Context, fileURL string, expiresIn time.Duration) (string, error)
}

type SupabaseStorageService struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseStorageService(baseURL, bucket, serviceKey string) *SupabaseStorageService {
	return &SupabaseStorageService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: http.DefaultClient,
	}
}

func (s *SupabaseStorageService) UploadFile(ctx context.Context, file io.Reader, filename string, folder string) (*StoredObject, error) {
	objectPath := path.Join(strings.Trim(folder, "/"), filename)
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, objectPath)

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", detectContentType(filename, content))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("upload file: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &StoredObject{
		ID:  objectPath,
		URL: fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath),
	}, nil
}

func (s *SupabaseStorageService) DeleteFile(ctx context.Context, fileURL string) error {
	objectPath, err := s.objectPathFromURL(fileURL)
	if err != nil {
		return err
	}

	deleteURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("delete file: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

func (s *SupabaseStorageService) SignedURL(ctx context.Context, fileURL string, expiresIn time.Duration) (string, error) {
	objectPath, err := s.objectPathFromURL(fileURL)
	if err != nil {
		return "", err
	}

	seconds := int(expiresIn / time.Second)
	if seconds <= 0 {
		return "", fmt.Errorf("signed url lifetime must be at least one second")
	}

	signURL := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.baseURL, s.bucket, objectPath)
	payload := map[string]int{"expiresIn": seconds}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal signed url payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build signed url request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("get signed url: status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var response struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode signed url response: %w", err)
	}
	if response.SignedURL == "" {
		return "", fmt.Errorf("signed url missing from response")
	}

	return fmt.Sprintf("%s/storage/v1%s", s.baseURL, response.SignedURL), nil
}

func (s *SupabaseStorageService) objectPathFromURL(fileURL string) (string, error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}

	publicPrefix := "/storage/v1/object/public/" + s.bucket + "/"
	objectPrefix := "/storage/v1/object/" + s.bucket + "/"

	switch {
	case strings.HasPrefix(parsed.Path, publicPrefix):
		return strings.TrimPrefix(parsed.Path, publicPrefix), nil
	case strings.HasPrefix(parsed.Path, objectPrefix):
		return strings.TrimPrefix(parsed.Path, objectPrefix), nil
	default:
		return "", fmt.Errorf("file url does not belong to configured bucket")
	}
}

// LocalStorageService keeps uploads on disk below dir and serves them from
// publicBaseURL + "/uploads". It is meant for development setups without a
// Supabase bucket.
type LocalStorageService struct {
	dir           string
	publicBaseURL string
}

func NewLocalStorageService(dir, publicBaseURL string) *LocalStorageService {
	return &LocalStorageService{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *LocalStorageService) Dir() string {
	return s.dir
}

func (s *LocalStorageService) UploadFile(_ context.Context, file io.Reader, filename string, folder string) (*StoredObject, error) {
	objectPath := path.Join(strings.Trim(folder, "/"), filename)
	fullPath := filepath.Join(s.dir, filepath.FromSlash(objectPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	target, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(target, file); err != nil {
		_ = target.Close()
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := target.Close(); err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("close upload: %w", err)
	}

	return &StoredObject{
		ID:  objectPath,
		URL: s.publicBaseURL + "/uploads/" + objectPath,
	}, nil
}

func (s *LocalStorageService) DeleteFile(_ context.Context, fileURL string) error {
	objectPath, err := s.objectPathFromURL(fileURL)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(s.dir, filepath.FromSlash(objectPath)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// SignedURL returns fileURL unchanged. Local uploads are served publicly, so
// only the ownership of the URL is checked.
func (s *LocalStorageService) SignedURL(_ context.Context, fileURL string, _ time.Duration) (string, error) {
	if _, err := s.objectPathFromURL(fileURL); err != nil {
		return "", err
	}
	return fileURL, nil
}

func (s *LocalStorageService) objectPathFromURL(fileURL string) (string, error) {
	prefix := s.publicBaseURL + "/uploads/"
	if !strings.HasPrefix(fileURL, prefix) {
		return "", fmt.Errorf("file url does not belong to local storage")
	}

	objectPath := path.Clean(strings.TrimPrefix(fileURL, prefix))
	if objectPath == "." || strings.HasPrefix(objectPath, "..") || path.IsAbs(objectPath) {
		return "", fmt.Errorf("invalid file path")
	}
	return objectPath, nil
}

func detectContentType(filename string, content []byte) string {
	contentType := attachment.ContentType(attachment.Extension(filename))
	if contentType == "application/octet-stream" {
		return http.DetectContentType(content)
	}
	return contentType
}
