package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"axfl/market"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OANDA v3 REST ADAPTER (practice environment)
// ═══════════════════════════════════════════════════════════════════════════════
//
// Orders are FOK market orders with SL/TP attached as on-fill orders and a
// clientExtensions.tag used as the idempotency key. Success is the presence
// of orderFillTransaction (filled) or orderCreateTransaction (pending).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PracticeURL    = "https://api-fxpractice.oanda.com"
	requestTimeout = 20 * time.Second
	idempotencyTTL = 24 * time.Hour
)

// OANDA is the REST adapter. Safe for use from the dispatcher only; the
// internal HTTP client may be shared.
type OANDA struct {
	baseURL   string
	token     string
	accountID string
	client    *http.Client

	mu        sync.Mutex
	errors    int
	lastError string
	connected bool
}

// NewOANDA creates an adapter for the practice environment.
func NewOANDA(baseURL, token, accountID string) *OANDA {
	if baseURL == "" {
		baseURL = PracticeURL
	}
	return &OANDA{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		client:    &http.Client{Timeout: requestTimeout},
	}
}

// PlaceMarket implements the idempotent market order of the Adapter contract.
func (o *OANDA) PlaceMarket(ctx context.Context, symbol string, side types.Side, units int, sl, tp float64, clientTag string) (PlaceResult, error) {
	// Idempotency: an existing transaction with this tag in the last 24h
	// short-circuits the submission.
	if txns, err := o.TradesSince(ctx, time.Now().UTC().Add(-idempotencyTTL)); err == nil {
		for _, t := range txns {
			if t.ClientTag == clientTag {
				log.Info().Str("tag", clientTag).Str("order_id", t.ID).Msg("order already placed, idempotent return")
				return PlaceResult{OrderID: t.ID, Idempotent: true}, nil
			}
		}
	}

	signed := units
	if side == types.Short {
		signed = -units
	}
	order := map[string]any{
		"type":         "MARKET",
		"instrument":   market.Underscore(symbol),
		"units":        decimal.NewFromInt(int64(signed)).String(),
		"timeInForce":  "FOK",
		"positionFill": "DEFAULT",
		"clientExtensions": map[string]any{
			"tag": clientTag,
		},
	}
	if sl > 0 {
		order["stopLossOnFill"] = map[string]any{"price": priceStr(symbol, sl)}
	}
	if tp > 0 {
		order["takeProfitOnFill"] = map[string]any{"price": priceStr(symbol, tp)}
	}

	body, status, err := o.do(ctx, http.MethodPost, "/v3/accounts/"+o.accountID+"/orders", map[string]any{"order": order})
	if err != nil {
		return PlaceResult{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return PlaceResult{}, o.fail(fmt.Errorf("place market: HTTP %d: %s", status, truncate(body)))
	}

	var resp struct {
		OrderFillTransaction   *struct{ ID string `json:"id"` } `json:"orderFillTransaction"`
		OrderCreateTransaction *struct{ ID string `json:"id"` } `json:"orderCreateTransaction"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return PlaceResult{}, o.fail(fmt.Errorf("place market: decode: %w", err))
	}
	switch {
	case resp.OrderFillTransaction != nil:
		return PlaceResult{OrderID: resp.OrderFillTransaction.ID}, nil
	case resp.OrderCreateTransaction != nil:
		// Pending create also counts as success.
		return PlaceResult{OrderID: resp.OrderCreateTransaction.ID}, nil
	default:
		return PlaceResult{}, o.fail(fmt.Errorf("place market: no fill or create transaction in response"))
	}
}

// CloseAll flattens the net position for a symbol, closing only the side
// that is actually open.
func (o *OANDA) CloseAll(ctx context.Context, symbol string) error {
	pos, err := o.FetchPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.Units == 0 {
		return nil
	}
	body := map[string]any{}
	if pos.Units > 0 {
		body["longUnits"] = "ALL"
	} else {
		body["shortUnits"] = "ALL"
	}
	instrument := market.Underscore(symbol)
	raw, status, err := o.do(ctx, http.MethodPut, "/v3/accounts/"+o.accountID+"/positions/"+instrument+"/close", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return o.fail(fmt.Errorf("close %s: HTTP %d: %s", instrument, status, truncate(raw)))
	}
	return nil
}

// FetchPosition returns the net position for a symbol or nil when flat.
func (o *OANDA) FetchPosition(ctx context.Context, symbol string) (*PositionInfo, error) {
	instrument := market.Underscore(symbol)
	raw, status, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID+"/positions/"+instrument, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, o.fail(fmt.Errorf("fetch position %s: HTTP %d", instrument, status))
	}
	var resp struct {
		Position wirePosition `json:"position"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, o.fail(fmt.Errorf("fetch position: decode: %w", err))
	}
	info := resp.Position.toInfo()
	if info.Units == 0 {
		return nil, nil
	}
	return &info, nil
}

// OpenPositions enumerates non-zero positions.
func (o *OANDA) OpenPositions(ctx context.Context) ([]PositionInfo, error) {
	raw, status, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID+"/openPositions", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, o.fail(fmt.Errorf("open positions: HTTP %d", status))
	}
	var resp struct {
		Positions []wirePosition `json:"positions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, o.fail(fmt.Errorf("open positions: decode: %w", err))
	}
	var out []PositionInfo
	for _, p := range resp.Positions {
		info := p.toInfo()
		if info.Units != 0 {
			out = append(out, info)
		}
	}
	return out, nil
}

// TradesSince enumerates fill and market-order transactions since a timestamp.
func (o *OANDA) TradesSince(ctx context.Context, since time.Time) ([]Transaction, error) {
	q := url.Values{}
	q.Set("from", since.UTC().Format(time.RFC3339))
	q.Set("type", "ORDER_FILL,MARKET_ORDER")
	raw, status, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID+"/transactions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, o.fail(fmt.Errorf("transactions: HTTP %d", status))
	}
	var resp struct {
		Transactions []struct {
			ID               string `json:"id"`
			Type             string `json:"type"`
			Instrument       string `json:"instrument"`
			Units            string `json:"units"`
			Price            string `json:"price"`
			Time             string `json:"time"`
			ClientExtensions struct {
				Tag string `json:"tag"`
			} `json:"clientExtensions"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, o.fail(fmt.Errorf("transactions: decode: %w", err))
	}
	out := make([]Transaction, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		units, _ := decimal.NewFromString(t.Units)
		price, _ := decimal.NewFromString(t.Price)
		ts, _ := time.Parse(time.RFC3339, t.Time)
		out = append(out, Transaction{
			ID:         t.ID,
			Type:       t.Type,
			Instrument: t.Instrument,
			ClientTag:  t.ClientExtensions.Tag,
			Units:      units.InexactFloat64(),
			Price:      price.InexactFloat64(),
			Time:       ts.UTC(),
		})
	}
	return out, nil
}

// PingAuth verifies the token against the account endpoint.
func (o *OANDA) PingAuth(ctx context.Context) error {
	_, status, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return o.fail(fmt.Errorf("ping: HTTP %d", status))
	}
	o.mu.Lock()
	o.connected = true
	o.mu.Unlock()
	return nil
}

// Account returns the balance snapshot.
func (o *OANDA) Account(ctx context.Context) (AccountInfo, error) {
	raw, status, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID+"/summary", nil)
	if err != nil {
		return AccountInfo{}, err
	}
	if status != http.StatusOK {
		return AccountInfo{}, o.fail(fmt.Errorf("account: HTTP %d", status))
	}
	var resp struct {
		Account struct {
			ID       string `json:"id"`
			Balance  string `json:"balance"`
			Currency string `json:"currency"`
		} `json:"account"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return AccountInfo{}, o.fail(fmt.Errorf("account: decode: %w", err))
	}
	bal, _ := decimal.NewFromString(resp.Account.Balance)
	return AccountInfo{
		ID:       resp.Account.ID,
		Balance:  bal.InexactFloat64(),
		Currency: resp.Account.Currency,
	}, nil
}

// Stats returns the health counters.
func (o *OANDA) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Connected: o.connected,
		Errors:    o.errors,
		LastError: o.lastError,
		Env:       "practice",
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// HTTP helpers
// ───────────────────────────────────────────────────────────────────────────────

func (o *OANDA) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, o.fail(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, o.fail(fmt.Errorf("%s %s: read: %w", method, path, err))
	}
	return data, resp.StatusCode, nil
}

func (o *OANDA) fail(err error) error {
	o.mu.Lock()
	o.errors++
	o.lastError = err.Error()
	o.mu.Unlock()
	return err
}

type wirePosition struct {
	Instrument string `json:"instrument"`
	Long       struct {
		Units        string `json:"units"`
		AveragePrice string `json:"averagePrice"`
		UnrealizedPL string `json:"unrealizedPL"`
	} `json:"long"`
	Short struct {
		Units        string `json:"units"`
		AveragePrice string `json:"averagePrice"`
		UnrealizedPL string `json:"unrealizedPL"`
	} `json:"short"`
}

func (p wirePosition) toInfo() PositionInfo {
	long, _ := decimal.NewFromString(p.Long.Units)
	short, _ := decimal.NewFromString(p.Short.Units)
	units := long.Add(short)
	avg := p.Long.AveragePrice
	upl, _ := decimal.NewFromString(p.Long.UnrealizedPL)
	if long.IsZero() {
		avg = p.Short.AveragePrice
		upl, _ = decimal.NewFromString(p.Short.UnrealizedPL)
	}
	price, _ := decimal.NewFromString(avg)
	return PositionInfo{
		Symbol:     market.FromUnderscore(p.Instrument),
		Units:      units.InexactFloat64(),
		AvgPrice:   price.InexactFloat64(),
		Unrealized: upl.InexactFloat64(),
	}
}

// priceStr formats a price at the venue's precision for the symbol.
func priceStr(symbol string, price float64) string {
	places := int32(5)
	switch market.PipSize(symbol) {
	case 0.01:
		places = 3
	case 0.1:
		places = 2
	}
	return decimal.NewFromFloat(price).Round(places).String()
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
