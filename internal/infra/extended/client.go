package extended

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"perp_exec/internal/domain"
	"perp_exec/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultRequestTimeout = 10 * time.Second
	orderExpiry           = time.Hour

	statusOK = "OK"
)

// ClientConfig configures the REST gateway.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	UserAgent string
	Timeout   time.Duration
}

// Client is the Extended REST gateway.
// Order signing on the venue's settlement layer is not done here: orders carry the
// API key and, when a secret is configured, an HMAC request signature.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a new Extended API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = infra.DefaultUserAgent
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(cfg.APIKey, cfg.APISecret),
		logger: slog.Default().With("module", "extended_client"),
		now:    time.Now,
	}
}

var _ domain.Gateway = (*Client)(nil)

// apiResponse is the venue envelope: {"status":"OK","data":...} or {"status":"ERROR","error":{...}}.
type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

type placeOrderRequest struct {
	ID                string `json:"id"`
	Market            string `json:"market"`
	Type              string `json:"type"`
	Side              string `json:"side"`
	Qty               string `json:"qty"`
	Price             string `json:"price"`
	TimeInForce       string `json:"timeInForce"`
	ExpiryEpochMillis int64  `json:"expiryEpochMillis"`
	ReduceOnly        bool   `json:"reduceOnly"`
	PostOnly          bool   `json:"postOnly"`
}

type orderRef struct {
	ID         json.RawMessage `json:"id"`
	ExternalID string          `json:"externalId"`
}

// PlaceLimitOrder submits a GTT limit order.
// Leverage is account-level on this venue and is applied through UpdateLeverage.
func (c *Client) PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if err := req.Validate(); err != nil {
		return domain.OrderHandle{}, err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	body := placeOrderRequest{
		ID:                clientID,
		Market:            req.Symbol,
		Type:              "LIMIT",
		Side:              string(req.Side),
		Qty:               req.Quantity.String(),
		Price:             req.Price.String(),
		TimeInForce:       "GTT",
		ExpiryEpochMillis: c.now().Add(orderExpiry).UnixMilli(),
	}

	var ref orderRef
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/user/order", nil, body, &ref); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("place order: %w", err)
	}

	id := rawString(ref.ID)
	if id == "" {
		id = clientID
	}

	c.logger.Info("Order Placed Successfully",
		slog.String("id", id),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("qty", req.Quantity.String()),
		slog.String("price", req.Price.String()),
	)
	return domain.OrderHandle{ID: id, RawQuantity: req.Quantity}, nil
}

// CancelAllOrders cancels every open order of a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]string{"market": symbol}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/user/order/massCancel", nil, body, nil); err != nil {
		return fmt.Errorf("mass cancel: %w", err)
	}
	return nil
}

type openOrder struct {
	ID             json.RawMessage `json:"id"`
	ExternalID     string          `json:"externalId"`
	Quantity       decimal.Decimal `json:"qty"`
	FilledQuantity decimal.Decimal `json:"filledQty"`
}

// GetOpenOrderStatus looks the order up among the open orders.
// An order that is no longer open yields ErrOrderNotFound.
func (c *Client) GetOpenOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var orders []openOrder
	query := url.Values{"status": []string{"OPEN"}}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/user/orders", query, nil, &orders); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("open orders: %w", err)
	}

	for _, o := range orders {
		if rawString(o.ID) == orderID || o.ExternalID == orderID {
			return domain.OrderStatus{
				FilledQuantity: o.FilledQuantity,
				TotalQuantity:  o.Quantity,
			}, nil
		}
	}
	return domain.OrderStatus{}, domain.ErrOrderNotFound
}

// GetPositions returns the raw position rows of the account.
func (c *Client) GetPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	var rows []domain.PositionRecord
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/user/positions", nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return rows, nil
}

type wireLevel struct {
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

type wireOrderbook struct {
	Market string      `json:"market"`
	Bid    []wireLevel `json:"bid"`
	Ask    []wireLevel `json:"ask"`
}

// GetOrderbookSnapshot fetches the REST order book of a market.
func (c *Client) GetOrderbookSnapshot(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	var ob wireOrderbook
	path := "/api/v1/info/markets/" + url.PathEscape(symbol) + "/orderbook"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &ob); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("orderbook: %w", err)
	}

	snap := domain.OrderbookSnapshot{
		Bid: make([]domain.Level, 0, len(ob.Bid)),
		Ask: make([]domain.Level, 0, len(ob.Ask)),
	}
	for _, l := range ob.Bid {
		snap.Bid = append(snap.Bid, domain.Level{Price: l.Price, Size: l.Qty})
	}
	for _, l := range ob.Ask {
		snap.Ask = append(snap.Ask, domain.Level{Price: l.Price, Size: l.Qty})
	}
	return snap, nil
}

// UpdateLeverage sets the account leverage for a market.
func (c *Client) UpdateLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]string{
		"market":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	if err := c.doRequest(ctx, http.MethodPatch, "/api/v1/user/leverage", nil, body, nil); err != nil {
		return fmt.Errorf("update leverage: %w", err)
	}
	return nil
}

// doRequest handles auth headers, serialization and the response envelope.
// out, when non-nil, receives the envelope's data field.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	rawQuery := query.Encode()
	reqURL := c.baseURL + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return domain.NewFatalNetworkError(method+" "+path, err)
	}

	for k, v := range c.signer.GenerateHeaders(method, path, rawQuery, bodyStr) {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError(method+" "+path, err)
	}

	var apiResp apiResponse
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &apiResp); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	if resp.StatusCode >= 300 || (apiResp.Status != "" && !strings.EqualFold(apiResp.Status, statusOK)) {
		apiErr := &domain.APIError{Status: resp.StatusCode}
		if apiResp.Error != nil {
			apiErr.Code = rawString(apiResp.Error.Code)
			apiErr.Message = apiResp.Error.Message
		} else {
			apiErr.Message = truncate(string(bodyBytes), 256)
		}
		// 키 거부는 재시도해도 같은 결과
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return domain.NewFatalNetworkError(method+" "+path, apiErr)
		}
		return apiErr
	}

	if out == nil || len(apiResp.Data) == 0 || string(apiResp.Data) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(apiResp.Data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}

// rawString renders a JSON string or number as plain text.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(raw, &out); err == nil {
			return out
		}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
