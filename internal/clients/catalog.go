package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/httpclient"
)

type Category struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type CatalogClient struct {
	baseURL string
	client  *httpclient.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		client:  httpclient.New("catalog", 5*time.Second),
	}
}

// CategoryExists reports whether the catalog knows an active category with
// the given id.
func (c *CatalogClient) CategoryExists(ctx context.Context, categoryID string) (bool, error) {
	var category Category
	err := httpclient.Get(c.baseURL, "/v1/categories/%s", categoryID).
		Send(ctx, c.client, &category)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return category.Active, nil
}
