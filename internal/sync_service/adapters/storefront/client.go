package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopbridge/golang_services/internal/core_domain"
	"github.com/shopbridge/golang_services/internal/ingestion_service/domain"
)

const (
	accessTokenHeader = "X-Shopify-Access-Token"
	// PageLimit is the largest page the order history API returns.
	PageLimit = 250
	// OrderFields projects orders down to what a notification needs.
	OrderFields = "id,name,order_number,financial_status,total_price,currency,created_at,customer,line_items"
)

var nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// Shop is returned by Probe.
type Shop struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Client reads order history from the storefront Admin REST API.
type Client struct {
	logger      *slog.Logger
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// AdminBaseURL builds https://{domain}/admin/api/{version}.
func AdminBaseURL(storeDomain, apiVersion string) string {
	d := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(storeDomain, "https://"), "http://"), "/")
	return fmt.Sprintf("https://%s/admin/api/%s", d, apiVersion)
}

func NewClient(logger *slog.Logger, baseURL, accessToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		logger:      logger.With("adapter", "storefront"),
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
	}
}

// Probe checks connectivity and credentials before a sync run.
func (c *Client) Probe(ctx context.Context) (*Shop, error) {
	var body struct {
		Shop Shop `json:"shop"`
	}
	if _, err := c.getJSON(ctx, "probe", c.baseURL+"/shop.json", &body); err != nil {
		return nil, err
	}
	return &body.Shop, nil
}

type ordersPage struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrdersSince returns every order created at or after since, following
// Link rel="next" cursors until the last page.
func (c *Client) ListOrdersSince(ctx context.Context, since time.Time) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("status", "any")
	q.Set("created_at_min", since.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(PageLimit))
	q.Set("fields", OrderFields)
	next := c.baseURL + "/orders.json?" + q.Encode()

	var orders []domain.Order
	for page := 1; next != ""; page++ {
		var body ordersPage
		header, err := c.getJSON(ctx, "list orders", next, &body)
		if err != nil {
			return nil, err
		}
		orders = append(orders, body.Orders...)
		c.logger.DebugContext(ctx, "Fetched order page", "page", page, "count", len(body.Orders))
		next = nextPageURL(header.Get("Link"))
	}
	return orders, nil
}

// ListOrdersAfterID pages by since_id until a short page is returned.
func (c *Client) ListOrdersAfterID(ctx context.Context, sinceID int64) ([]domain.Order, error) {
	var orders []domain.Order
	for {
		q := url.Values{}
		q.Set("status", "any")
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
		q.Set("limit", strconv.Itoa(PageLimit))
		q.Set("fields", OrderFields)

		var body ordersPage
		if _, err := c.getJSON(ctx, "list orders", c.baseURL+"/orders.json?"+q.Encode(), &body); err != nil {
			return nil, err
		}
		orders = append(orders, body.Orders...)
		if len(body.Orders) < PageLimit {
			return orders, nil
		}
		for _, o := range body.Orders {
			if o.ID > sinceID {
				sinceID = o.ID
			}
		}
	}
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &core_domain.UpstreamAPIError{Op: op, Err: err}
	}
	req.Header.Set(accessTokenHeader, c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Storefront request failed", "error", err, "op", op)
		return nil, &core_domain.UpstreamAPIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.ErrorContext(ctx, "Storefront returned error status", "op", op, "status", resp.StatusCode, "body", string(snippet))
		return nil, &core_domain.UpstreamAPIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(snippet)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, &core_domain.UpstreamAPIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.Header, nil
}

func nextPageURL(link string) string {
	if m := nextLinkRe.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}
