package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// HTTPBackend talks to the parcel web service:
//
//	GET {base}/farms/{farm}/parcels/{parcel}
//	GET {base}/farms/{farm}/parcels
//	PUT {base}/farms/{farm}/parcels/{parcel}
//
// Auth goes out as "Authorization: Bearer <token>" and "X-Role: <role>".
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates an HTTP backend. A nil client gets a default
// client with a 30s timeout.
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (b *HTTPBackend) Parcel(ctx context.Context, auth Auth, farmID, parcelID string) (*geojson.FeatureCollection, error) {
	return b.getCollection(ctx, auth, b.parcelURL(farmID, parcelID))
}

func (b *HTTPBackend) Parcels(ctx context.Context, auth Auth, farmID string) (*geojson.FeatureCollection, error) {
	return b.getCollection(ctx, auth, fmt.Sprintf("%s/farms/%s/parcels", b.baseURL, url.PathEscape(farmID)))
}

func (b *HTTPBackend) SaveParcel(ctx context.Context, auth Auth, req SaveRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding save request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, b.parcelURL(req.FarmID, req.ParcelID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, auth)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("saving parcel: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (b *HTTPBackend) parcelURL(farmID, parcelID string) string {
	return fmt.Sprintf("%s/farms/%s/parcels/%s", b.baseURL, url.PathEscape(farmID), url.PathEscape(parcelID))
}

func (b *HTTPBackend) getCollection(ctx context.Context, auth Auth, target string) (*geojson.FeatureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	setAuth(req, auth)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return decodeCollection(data)
}

func setAuth(req *http.Request, auth Auth) {
	if auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
	if auth.Role != "" {
		req.Header.Set("X-Role", auth.Role)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("parcel service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
