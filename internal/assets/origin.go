package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Origin fetches originals from a remote HTTP origin under a base URL,
// GET {base}/{id}. A 404 from the origin is authoritative; transient
// failures get exactly one local retry before surfacing as ErrUpstream.
type Origin struct {
	base   *url.URL
	client *http.Client
}

func NewOrigin(baseURL string, timeout time.Duration) (*Origin, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin url: %w", err)
	}

	return &Origin{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (o *Origin) Fetch(ctx context.Context, id string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		data, err := o.fetchOnce(ctx, id)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, lastErr
}

func (o *Origin) fetchOnce(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base.JoinPath(url.PathEscape(id)).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: origin returned %s", ErrUpstream, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return data, nil
}
