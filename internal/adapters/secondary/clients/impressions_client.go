package clients

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

// beaconTimeout : l'envoi final à l'arrêt ne doit pas retarder la sortie.
const beaconTimeout = 2 * time.Second

type impressionsRequest struct {
	PostIDs []string `json:"postIds"`
}

type ImpressionsClient struct {
	api *APIClient
}

var _ ports.ImpressionSink = (*ImpressionsClient)(nil)

func NewImpressionsClient(api *APIClient) *ImpressionsClient {
	return &ImpressionsClient{api: api}
}

func (c *ImpressionsClient) RecordImpressions(ctx context.Context, postIDs []string) error {
	if len(postIDs) == 0 {
		return nil
	}
	return c.api.do(ctx, http.MethodPost, "/posts/impressions", nil, impressionsRequest{PostIDs: postIDs}, nil, nil)
}

func (c *ImpressionsClient) Beacon(postIDs []string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()
	if err := c.RecordImpressions(ctx, postIDs); err != nil {
		slog.Debug("Impression beacon failed", "count", len(postIDs), "error", err)
		return false
	}
	return true
}
