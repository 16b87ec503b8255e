package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

// feedResponse suit le format paginé du backend.
type feedResponse struct {
	Content       []domain.Post `json:"content"`
	TotalElements int           `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	Last          bool          `json:"last"`
}

// FeedClient implémente le Paged Fetch Client : sans état, sans cache.
type FeedClient struct {
	api *APIClient
}

var _ ports.PageFetcher = (*FeedClient)(nil)

func NewFeedClient(api *APIClient) *FeedClient {
	return &FeedClient{api: api}
}

func (c *FeedClient) FetchPage(ctx context.Context, key domain.FeedKey, page, size int) (domain.Page, error) {
	if page < 0 || size <= 0 {
		return domain.Page{}, fmt.Errorf("%w: page=%d size=%d", domain.ErrInvalidPageRequest, page, size)
	}
	key = key.Normalize()

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	query.Set("filter", string(key.Filter))
	if len(key.GroupIDs) > 0 {
		query.Set("groupIds", strings.Join(key.GroupIDs, ","))
	}
	if key.ContextID != "" {
		query.Set("contextId", key.ContextID)
	}

	slog.Debug("Fetching feed page", "kind", key.Kind, "page", page, "size", size)

	var resp feedResponse
	path := "/feed/" + url.PathEscape(string(key.Kind))
	if err := c.api.do(ctx, http.MethodGet, path, query, nil, nil, &resp); err != nil {
		fe := &domain.FetchError{Key: key.String(), Page: page, Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			fe.Status = se.Status
		}
		return domain.Page{}, fe
	}

	return domain.Page{
		Items:         resp.Content,
		IsLastPage:    resp.Last || len(resp.Content) < size,
		TotalElements: resp.TotalElements,
	}, nil
}
