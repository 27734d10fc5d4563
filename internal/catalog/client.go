package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/spachava753/geosync/internal/models"
)

// LegacyRootParent is the container under which legacy user and project roots are listed.
const LegacyRootParent = "projects/earthengine-legacy"

// ClientConfig configures the HTTP catalog client.
type ClientConfig struct {
	BaseURL    string
	Project    string
	Token      string
	Timeout    time.Duration
	Retry      models.RetryConfig
	HTTPClient *http.Client
}

// Client is the REST implementation of Catalog.
type Client struct {
	base    *url.URL
	project string
	token   string
	retry   models.RetryConfig
	http    *http.Client
}

var _ Catalog = (*Client)(nil)

// NewClient creates a catalog client. A nil HTTPClient gets one with cfg.Timeout.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing catalog url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("catalog url must be absolute: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	project := cfg.Project
	if project == "" {
		project = "earthengine-legacy"
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	return &Client{
		base:    base,
		project: project,
		token:   cfg.Token,
		retry:   retry,
		http:    httpClient,
	}, nil
}

// GetAsset looks up a single asset. The name is sent as given, trailing slash included.
func (c *Client) GetAsset(ctx context.Context, name string) (*Asset, error) {
	var asset Asset
	if err := c.do(ctx, http.MethodGet, "v1/"+name, nil, nil, &asset); err != nil {
		return nil, fmt.Errorf("getting asset %s: %w", name, err)
	}
	return &asset, nil
}

// ListLegacyRoots returns the ids of the legacy roots the caller can write to.
func (c *Client) ListLegacyRoots(ctx context.Context) ([]string, error) {
	assets, err := c.listAssets(ctx, LegacyRootParent)
	if err != nil {
		return nil, fmt.Errorf("listing legacy roots: %w", err)
	}
	roots := make([]string, 0, len(assets))
	for _, a := range assets {
		id := a.ID
		if id == "" {
			id = a.Name
		}
		roots = append(roots, id)
	}
	return roots, nil
}

// CreateAsset creates an empty folder or image collection at name.
func (c *Client) CreateAsset(ctx context.Context, name string, typ AssetType) (*Asset, error) {
	parent, assetID, ok := splitAssetName(name)
	if !ok {
		return nil, fmt.Errorf("creating asset %s: name has no assets segment", name)
	}
	q := url.Values{"assetId": {assetID}}
	var asset Asset
	if err := c.do(ctx, http.MethodPost, "v1/"+parent+"/assets", q, map[string]any{"type": typ}, &asset); err != nil {
		return nil, fmt.Errorf("creating asset %s: %w", name, err)
	}
	return &asset, nil
}

// ListChildren returns the direct children of a container, following pagination.
func (c *Client) ListChildren(ctx context.Context, name string) ([]Asset, error) {
	assets, err := c.listAssets(ctx, strings.TrimSuffix(name, "/"))
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", name, err)
	}
	return assets, nil
}

func (c *Client) listAssets(ctx context.Context, parent string) ([]Asset, error) {
	var all []Asset
	pageToken := ""
	for {
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page struct {
			Assets        []Asset `json:"assets"`
			NextPageToken string  `json:"nextPageToken"`
		}
		if err := c.do(ctx, http.MethodGet, "v1/"+parent+":listAssets", q, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Assets...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListOperations returns every operation of the project, following pagination.
func (c *Client) ListOperations(ctx context.Context) ([]Operation, error) {
	var all []Operation
	pageToken := ""
	for {
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page struct {
			Operations    []Operation `json:"operations"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if err := c.do(ctx, http.MethodGet, "v1/projects/"+c.project+"/operations", q, nil, &page); err != nil {
			return nil, fmt.Errorf("listing operations: %w", err)
		}
		all = append(all, page.Operations...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// CountActiveOperations counts queued and running operations.
func (c *Client) CountActiveOperations(ctx context.Context) (int, error) {
	ops, err := c.ListOperations(ctx)
	if err != nil {
		return 0, err
	}
	return CountActive(ops), nil
}

func (c *Client) StartImageIngestion(ctx context.Context, requestID string, m ImageManifest, overwrite bool) (*Operation, error) {
	body := map[string]any{
		"imageManifest": m,
		"requestId":     requestID,
		"overwrite":     overwrite,
	}
	var op Operation
	if err := c.do(ctx, http.MethodPost, "v1/projects/"+c.project+"/image:import", nil, body, &op); err != nil {
		return nil, fmt.Errorf("starting image ingestion of %s: %w", m.Name, err)
	}
	return &op, nil
}

func (c *Client) StartTableIngestion(ctx context.Context, requestID string, m TableManifest, overwrite bool) (*Operation, error) {
	body := map[string]any{
		"tableManifest": m,
		"requestId":     requestID,
		"overwrite":     overwrite,
	}
	var op Operation
	if err := c.do(ctx, http.MethodPost, "v1/projects/"+c.project+"/table:import", nil, body, &op); err != nil {
		return nil, fmt.Errorf("starting table ingestion of %s: %w", m.Name, err)
	}
	return &op, nil
}

func (c *Client) CancelOperation(ctx context.Context, name string) error {
	if err := c.do(ctx, http.MethodPost, "v1/"+name+":cancel", nil, map[string]any{}, nil); err != nil {
		return fmt.Errorf("cancelling operation %s: %w", name, err)
	}
	return nil
}

// do sends one logical request, retrying transport failures, 429 and 5xx responses.
// Ingestion requests carry a requestId, which makes their retries idempotent.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	u := c.base.String() + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "geosync")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			return struct{}{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := newAPIError(method, "/"+path, resp.StatusCode, data)
			if apiErr.Retryable() {
				return struct{}{}, apiErr
			}
			return struct{}{}, backoff.Permanent(apiErr)
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("retrying catalog request", "method", method, "path", path, "attempt", attempt, "next", next, "error", err)
		}),
	)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.retry.InitialDelayMs > 0 {
		b.InitialInterval = time.Duration(c.retry.InitialDelayMs) * time.Millisecond
	}
	if c.retry.MaxDelayMs > 0 {
		b.MaxInterval = time.Duration(c.retry.MaxDelayMs) * time.Millisecond
	}
	if c.retry.Multiplier > 0 {
		b.Multiplier = c.retry.Multiplier
	}
	return b
}

// splitAssetName splits "projects/p/assets/a/b" into ("projects/p", "a/b").
func splitAssetName(name string) (parent, assetID string, ok bool) {
	name = strings.Trim(name, "/")
	idx := strings.Index(name, "/assets/")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len("/assets/"):], true
}
