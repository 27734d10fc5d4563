package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/util"
)

// SignedURLUploader posts files to single-use URLs handed out by the catalog's upload
// endpoint. Slot requests are serialized; transfers are not.
type SignedURLUploader struct {
	base   string
	token  string
	client *http.Client

	slotMu sync.Mutex
}

// NewSignedURLUploader creates an uploader against base, e.g. "https://code.example.com".
// A nil client falls back to http.DefaultClient.
func NewSignedURLUploader(base, token string, client *http.Client) *SignedURLUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &SignedURLUploader{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: client,
	}
}

var _ Uploader = (*SignedURLUploader)(nil)

// Upload fetches a fresh slot and streams the file to it as multipart form data.
func (u *SignedURLUploader) Upload(ctx context.Context, path, field string) (string, error) {
	slot, err := u.fetchSlot(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slot, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	u.authorize(req)

	resp, err := u.client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return "", fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}

	var refs []string
	if err := json.Unmarshal(body, &refs); err != nil {
		return "", fmt.Errorf("parsing upload response: %w", err)
	}
	if len(refs) == 0 || refs[0] == "" {
		return "", errors.New("upload response carried no reference")
	}

	slog.Debug("file staged", "file", filepath.Base(path), "ref", refs[0])
	return refs[0], nil
}

// fetchSlot asks for a single-use upload URL. Only one request is outstanding at a time.
func (u *SignedURLUploader) fetchSlot(ctx context.Context) (string, error) {
	u.slotMu.Lock()
	defer u.slotMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+"/assets/upload/geturl", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSlot, err)
	}
	u.authorize(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSlot, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSlot, err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSlot, err)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: parsing response: %w", ErrSlot, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: empty url", ErrSlot)
	}
	return out.URL, nil
}

func (u *SignedURLUploader) authorize(req *http.Request) {
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
}

func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return catalog.ErrUnauthenticated
	}
	msg := strings.TrimSpace(string(body))
	msg = util.Truncate(msg, 200)
	return fmt.Errorf("status %d: %s", status, msg)
}
