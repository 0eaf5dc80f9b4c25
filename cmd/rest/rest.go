package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/models"
)

const (
	apiEndpoint = "https://data-api.binance.vision/api/v3/"

	// TradingFee is the flat spot trading fee fraction (0.1% per trade).
	// Applied on the coin leg of a buy and the euro leg of a sell.
	TradingFee = 0.001
)

func BuildURI(base string, query ...string) string {
	var sb strings.Builder
	sb.WriteString(base)
	for _, q := range query {
		// Check if the query string starts with "symbol="
		if strings.HasPrefix(q, "symbol=") {
			parts := strings.Split(q, "&")
			part := strings.Split(parts[0], "=")
			part[1] = strings.ToUpper(part[1])
			parts[0] = strings.Join(part, "=")
			sb.WriteString(strings.Join(parts, "&"))
		} else {
			sb.WriteString(q)
		}
	}
	return sb.String()
}

/* IP Limits

   - Every request will contain X-MBX-USED-WEIGHT-(intervalNum)(intervalLetter) in the response headers which has the current used weight for the IP for all request rate limiters defined.
   - When a 429 is received, it's your obligation as an API to back off and not spam the API.
   - A Retry-After header is sent with a 418 or 429 responses and will give the number of seconds required to wait, in the case of a 429, to prevent a ban, or, in the case of a 418, until the ban is over.
*/

// Query makes a GET request for the given query string/url with an additional backoff timer.
// Once a "Retry-After" header is received, the query mechanism will go to sleep. The caller
// has to implement retry mechanism.
func Query(qs string) ([]byte, error) {
	resp, err := http.Get(qs)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		logger.Debug.Printf("HTTP Status code: %v, X-Mbx-Used-Weight: %q, Retry-After: %q\n",
			resp.StatusCode,
			resp.Header.Get("X-Mbx-Used-Weight"),
			resp.Header.Get("Retry-After"),
		)
		timer, err := strconv.ParseInt(resp.Header.Get("Retry-After"), 10, 64)
		if err != nil {
			return nil, err
		}
		logger.Error.Printf(
			"%v Retry-After received, backing off for: %d\n",
			resp.StatusCode,
			timer,
		)

		return nil, &models.RequestError{
			Err:    errors.New("ErrBackOff"),
			Timer:  time.Duration(timer) * time.Second,
			Status: resp.StatusCode,
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &models.RequestError{
			Err:    fmt.Errorf("HTTP Status: %s, Body: %s", resp.Status, bytes.TrimSpace(body)),
			Status: resp.StatusCode,
		}
	}

	r, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return r, nil
}

/*
GET /api/v3/klines

	Kline/candlestick bars for a symbol.
	Klines are uniquely identified by their open time.

	symbol 		STRING 	YES
	startTime 	LONG 	NO 	Timestamp in ms to get aggregate trades from INCLUSIVE.
	endTime 	LONG 	NO 	Timestamp in ms to get aggregate trades until INCLUSIVE.
	limit 		INT 	NO 	Default 500; max 1000.

	If startTime and endTime are not sent, the most recent klines are returned.
*/
func GetKlines(q ...string) ([]byte, error) {
	uri := BuildURI(apiEndpoint+"klines?", q...)
	resp, err := Query(uri)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

/*
GET /api/v3/ticker/price

	Latest price for a symbol.

	Response: { "symbol": "BTCEUR", "price": "24091.35000000" }
*/
func GetTickerPrice(symbol string) (float64, error) {
	uri := BuildURI(apiEndpoint+"ticker/price?", "symbol="+symbol)
	resp, err := Query(uri)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(resp, &ticker); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker response: %w", err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed ticker price %q: %w", ticker.Price, err)
	}
	return price, nil
}

/*
Check Server Time

	Response: { "serverTime": 1499827319559	}

GET /api/v3/time

Test connectivity to the Rest API and get the current server time.
*/
func GetServerTime() (int64, error) {
	uri := BuildURI(apiEndpoint + "time")
	resp, err := Query(uri)
	if err != nil {
		return 0, err
	}

	var st struct {
		ServerTime int64 `json:"serverTime"`
	}

	if err := json.Unmarshal(resp, &st); err != nil {
		return 0, err
	}
	return st.ServerTime, nil
}

/*
GET /api/v3/exchangeInfo

	Notes: If the value provided to symbol or symbols do not exist,
	the endpoint will throw an error saying the symbol is invalid.
*/
func NewSymbolCache() (map[string]struct{}, error) {
	uri := BuildURI(apiEndpoint + "exchangeInfo")
	resp, err := Query(uri)
	if err != nil {
		return nil, err
	}

	var exchangeInfo struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
		} `json:"symbols"`
	}

	err = json.Unmarshal(resp, &exchangeInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	cache := make(map[string]struct{}, len(exchangeInfo.Symbols))
	for _, s := range exchangeInfo.Symbols {
		cache[s.Symbol] = struct{}{}
	}

	return cache, nil
}
