package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

// offsetPage requests one page with include_totals. Endpoints that ignore
// include_totals answer with a bare array or omit total; see openTotal.
func (c *Client) offsetPage(ctx context.Context, spec remote.CollectionSpec, page, perPage int) (engine.OffsetPage, error) {
	query := url.Values{
		"page":           {strconv.Itoa(page)},
		"per_page":       {strconv.Itoa(perPage)},
		"include_totals": {"true"},
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, spec.Path, query, nil, &raw); err != nil {
		return engine.OffsetPage{}, err
	}

	var bare []engine.Item
	if err := json.Unmarshal(raw, &bare); err == nil {
		return engine.OffsetPage{Items: bare, Total: openTotal(page, perPage, len(bare))}, nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return engine.OffsetPage{}, fmt.Errorf("unexpected list response for %s: %w", spec.Name, err)
	}

	var out engine.OffsetPage
	if data, ok := body[spec.Key()]; ok {
		if err := json.Unmarshal(data, &out.Items); err != nil {
			return engine.OffsetPage{}, fmt.Errorf("failed to decode %s: %w", spec.Key(), err)
		}
	}
	if data, ok := body["total"]; ok {
		if err := json.Unmarshal(data, &out.Total); err != nil {
			return engine.OffsetPage{}, fmt.Errorf("failed to decode total: %w", err)
		}
	} else {
		out.Total = openTotal(page, perPage, len(out.Items))
	}

	return out, nil
}

// openTotal stands in for a missing total. A full page claims one more item
// than seen so far so the next page is requested; a short page ends the listing.
func openTotal(page, perPage, n int) int {
	seen := page*perPage + n
	if n >= perPage {
		return seen + 1
	}
	return seen
}

// cursorPage requests one checkpoint page starting at from.
func (c *Client) cursorPage(ctx context.Context, spec remote.CollectionSpec, from string) (engine.CursorPage, error) {
	query := url.Values{"take": {strconv.Itoa(spec.PerPage())}}
	if from != "" {
		query.Set("from", from)
	}

	var body map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, spec.Path, query, nil, &body); err != nil {
		return nil, err
	}

	page := &checkpointPage{client: c, spec: spec}
	if data, ok := body[spec.Key()]; ok {
		if err := json.Unmarshal(data, &page.items); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", spec.Key(), err)
		}
	}
	if data, ok := body["next"]; ok {
		if err := json.Unmarshal(data, &page.next); err != nil {
			return nil, fmt.Errorf("failed to decode next: %w", err)
		}
	}

	return page, nil
}

// checkpointPage implements engine.CursorPage.
type checkpointPage struct {
	client *Client
	spec   remote.CollectionSpec
	items  []engine.Item
	next   string
}

func (p *checkpointPage) Items() []engine.Item {
	return p.items
}

func (p *checkpointPage) HasNextPage() bool {
	return p.next != ""
}

func (p *checkpointPage) NextPage(ctx context.Context) (engine.CursorPage, error) {
	if p.next == "" {
		return nil, fmt.Errorf("no next page for %s", p.spec.Name)
	}
	return p.client.cursorPage(ctx, p.spec, p.next)
}
