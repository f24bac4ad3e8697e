// Package rest implements remote.API over the tenant's HTTP management API.
package rest

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

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 32 << 20

// Config holds the management API connection settings.
type Config struct {
	// Domain is the tenant domain (e.g. "example.eu.auth0.com").
	Domain string

	// BaseURL overrides the API root derived from Domain.
	BaseURL string

	// ClientID and ClientSecret authenticate with the client credentials grant.
	ClientID     string
	ClientSecret string

	// Audience is the API audience. Defaults to the management API of Domain.
	Audience string

	// Token is a pre-issued access token. When set, client credentials are not used.
	Token string

	// Timeout bounds each request. Defaults to 30 seconds.
	Timeout time.Duration

	// Transport is the base transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return "https://" + c.Domain + "/api/v2"
}

func (c Config) audience() string {
	if c.Audience != "" {
		return c.Audience
	}
	return "https://" + c.Domain + "/api/v2/"
}

// Client is a management API client. It implements remote.API.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client. Requests are traced with OpenTelemetry and
// authorized with a token from the client credentials grant, or with the
// static token when one is configured.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Domain == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("domain or base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}

	traced := otelhttp.NewTransport(cfg.Transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	var source oauth2.TokenSource
	switch {
	case cfg.Token != "":
		source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		cc := clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       "https://" + cfg.Domain + "/oauth/token",
			EndpointParams: url.Values{"audience": {cfg.audience()}},
			AuthStyle:      oauth2.AuthStyleInParams,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
			Transport: traced,
			Timeout:   cfg.Timeout,
		})
		source = cc.TokenSource(tokenCtx)
	default:
		return nil, fmt.Errorf("either a token or client credentials are required")
	}

	return &Client{
		base: cfg.baseURL(),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, source),
				Base:   traced,
			},
		},
		logger: logger.With().Str("component", "rest-client").Logger(),
	}, nil
}

// do sends one request. body is JSON-encoded when non-nil; the response is
// decoded into out when out is non-nil and the body is not empty.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("API request")

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &remote.APIError{}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		apiErr.StatusCode = resp.StatusCode
		apiErr.Method = method
		apiErr.Path = path
		if apiErr.Message == "" && apiErr.Title == "" {
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", method, path, err)
	}
	return nil
}

// itemPath returns the path of one item of a collection.
func itemPath(spec remote.CollectionSpec, id string) string {
	if spec.Singleton {
		return spec.Path
	}
	return spec.Path + "/" + url.PathEscape(id)
}

// Get implements remote.API.
func (c *Client) Get(ctx context.Context, spec remote.CollectionSpec, id string) (engine.Item, error) {
	var item engine.Item
	if err := c.do(ctx, http.MethodGet, itemPath(spec, id), nil, nil, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// Invoke implements remote.API.
func (c *Client) Invoke(ctx context.Context, spec remote.CollectionSpec, id, action string) (engine.Item, error) {
	var item engine.Item
	if err := c.do(ctx, http.MethodPost, itemPath(spec, id)+"/"+action, nil, engine.Item{}, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// Capabilities implements remote.API.
func (c *Client) Capabilities(spec remote.CollectionSpec) engine.Capabilities {
	if spec.Singleton {
		return engine.Capabilities{
			List: remote.SingletonLister(spec, func(ctx context.Context) (engine.Item, error) {
				return c.Get(ctx, spec, "")
			}),
			Update: func(ctx context.Context, _ string, payload engine.Item) (engine.Item, error) {
				var item engine.Item
				err := c.do(ctx, http.MethodPatch, spec.Path, nil, payload, &item)
				return item, err
			},
		}
	}

	caps := engine.Capabilities{
		Create: func(ctx context.Context, payload engine.Item) (engine.Item, error) {
			var item engine.Item
			err := c.do(ctx, http.MethodPost, spec.Path, nil, payload, &item)
			return item, err
		},
		Update: func(ctx context.Context, id string, payload engine.Item) (engine.Item, error) {
			var item engine.Item
			err := c.do(ctx, http.MethodPatch, itemPath(spec, id), nil, payload, &item)
			return item, err
		},
		Delete: func(ctx context.Context, id string) error {
			return c.do(ctx, http.MethodDelete, itemPath(spec, id), nil, nil, nil)
		},
	}

	if spec.Paging == remote.PagingCursor {
		caps.List = engine.CursorLister{
			First: func(ctx context.Context) (engine.CursorPage, error) {
				return c.cursorPage(ctx, spec, "")
			},
		}
	} else {
		caps.List = engine.OffsetLister{
			PageSize: spec.PerPage(),
			ListPage: func(ctx context.Context, page, perPage int) (engine.OffsetPage, error) {
				return c.offsetPage(ctx, spec, page, perPage)
			},
		}
	}

	return caps
}
