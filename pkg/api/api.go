// Package api provides types and functions to interact with the filling
// station backoffice API: reference data (pumps, nozzles, fuel types) and
// transaction logging.
package api

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
)

const (
	DefaultBaseURL = "http://127.0.0.1:8000/backoffice/"
	DefaultTimeout = 30 * time.Second

	PumpsEndpoint        = "api/pumps/"
	NozzlesEndpoint      = "api/nozzles/"
	FuelTypesEndpoint    = "api/fuel-types/"
	TransactionsEndpoint = "api/transactions/"

	maxErrorBody = 4096
)

// StatusError is returned when the backoffice answers with a non-success status.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status code: %d", e.Method, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status code: %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Options tune a BackofficeAPI. Zero values select the defaults.
type Options struct {
	Timeout    time.Duration
	Naming     FieldNaming
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// BackofficeAPI talks to the backoffice REST service.
type BackofficeAPI struct {
	baseURL    string
	naming     FieldNaming
	httpClient *http.Client
	log        *slog.Logger
}

// NewBackofficeAPI creates a client rooted at baseURL.
func NewBackofficeAPI(baseURL string, opts Options) *BackofficeAPI {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if !opts.Naming.Valid() {
		opts.Naming = NamingPlain
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &BackofficeAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		naming:     opts.Naming,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
	}
}

// BaseURL returns the root URL requests are made against.
func (api *BackofficeAPI) BaseURL() string {
	return api.baseURL
}

// FetchPumps fetches every pump.
func (api *BackofficeAPI) FetchPumps(ctx context.Context) ([]Pump, error) {
	body, err := api.get(ctx, PumpsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Pump](api.log, PumpsEndpoint, body)
}

// FetchNozzles fetches nozzles, restricted to one pump when pumpID is set.
func (api *BackofficeAPI) FetchNozzles(ctx context.Context, pumpID *int64) ([]Nozzle, error) {
	var query url.Values
	if pumpID != nil {
		query = url.Values{"pump": {strconv.FormatInt(*pumpID, 10)}}
	}

	body, err := api.get(ctx, NozzlesEndpoint, query)
	if err != nil {
		return nil, err
	}
	return decodeList[Nozzle](api.log, NozzlesEndpoint, body)
}

// FetchFuelTypes fetches every fuel type with its unit price.
func (api *BackofficeAPI) FetchFuelTypes(ctx context.Context) ([]FuelType, error) {
	body, err := api.get(ctx, FuelTypesEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[FuelType](api.log, FuelTypesEndpoint, body)
}

// PostTransaction logs a transaction. Any status outside 2xx is a *StatusError.
func (api *BackofficeAPI) PostTransaction(ctx context.Context, tx Transaction) error {
	payload, err := tx.Encode(api.naming)
	if err != nil {
		return fmt.Errorf("error marshaling transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.url(TransactionsEndpoint, nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := api.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error posting transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(http.MethodPost, TransactionsEndpoint, resp)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	api.log.Debug("transaction logged", "pump", tx.Pump, "nozzle", tx.Nozzle, "total_cost", tx.TotalCost.String())
	return nil
}

func (api *BackofficeAPI) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.url(endpoint, query), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := api.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(http.MethodGet, endpoint, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	return body, nil
}

func (api *BackofficeAPI) url(endpoint string, query url.Values) string {
	u := fmt.Sprintf("%s/%s", api.baseURL, strings.TrimLeft(endpoint, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func newStatusError(method, endpoint string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// decodeList decodes a JSON array one element at a time. Elements that do
// not fit T are skipped and logged; a body that is not an array is an error.
func decodeList[T any](log *slog.Logger, endpoint string, body []byte) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}

	items := make([]T, 0, len(raw))
	for i, elem := range raw {
		var item T
		if err := json.Unmarshal(elem, &item); err != nil {
			log.Warn("skipping malformed item", "endpoint", endpoint, "index", i, "error", err)
			continue
		}
		items = append(items, item)
	}

	return items, nil
}
