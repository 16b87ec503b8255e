package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

// MutationHeader permet au serveur de marquer l'écho push de l'action.
const MutationHeader = "X-Mutation-Id"

type InteractionsClient struct {
	api *APIClient
}

var _ ports.InteractionClient = (*InteractionsClient)(nil)

func NewInteractionsClient(api *APIClient) *InteractionsClient {
	return &InteractionsClient{api: api}
}

func (c *InteractionsClient) Like(ctx context.Context, postID, mutationID string) error {
	return c.send(ctx, http.MethodPost, postPath(postID)+"/like", mutationID)
}

func (c *InteractionsClient) Unlike(ctx context.Context, postID, mutationID string) error {
	return c.send(ctx, http.MethodDelete, postPath(postID)+"/like", mutationID)
}

func (c *InteractionsClient) Bookmark(ctx context.Context, postID, mutationID string) error {
	return c.send(ctx, http.MethodPost, postPath(postID)+"/bookmark", mutationID)
}

func (c *InteractionsClient) Unbookmark(ctx context.Context, postID, mutationID string) error {
	return c.send(ctx, http.MethodDelete, postPath(postID)+"/bookmark", mutationID)
}

func (c *InteractionsClient) Delete(ctx context.Context, postID, mutationID string) error {
	return c.send(ctx, http.MethodDelete, postPath(postID), mutationID)
}

func (c *InteractionsClient) send(ctx context.Context, method, path, mutationID string) error {
	headers := http.Header{}
	if mutationID != "" {
		headers.Set(MutationHeader, mutationID)
	}
	return c.api.do(ctx, method, path, nil, nil, headers, nil)
}

func postPath(postID string) string {
	return "/posts/" + url.PathEscape(postID)
}
