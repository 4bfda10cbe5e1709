package nodeapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dltgateway/ledger-indexer/core"
)

// Client speaks the node's JSON API and adapts its committed-transaction
// stream into consistent ledger extensions. Summaries are derived locally by
// chaining from the caller's tip, so the node only ships raw transactions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

var _ core.LedgerSource = (*Client)(nil)

func NewClient(endpoint string, logger hclog.Logger) *Client {
	return &Client{
		baseURL: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("nodeapi"),
	}
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()

	return nil
}

func (c *Client) GetNetworkConfig(ctx context.Context) (core.NetworkConfig, error) {
	var response networkConfigurationResponse

	if err := c.get(ctx, "/network/configuration", &response); err != nil {
		return core.NetworkConfig{}, err
	}

	return core.NetworkConfig{
		NetworkName:       response.NetworkName,
		AddressHrp:        response.AddressHrp,
		GenesisPayloadHex: response.GenesisPayloadHex,
	}, nil
}

func (c *Client) FetchLedgerExtension(
	ctx context.Context, fromSummary core.TransactionSummary, batchSize int,
) (*core.ConsistentLedgerExtension, core.SyncTargetCarrier, error) {
	request := transactionsRequest{
		FromStateVersion: fromSummary.StateVersion + 1,
		Limit:            batchSize,
	}

	var response transactionsResponse

	if err := c.post(ctx, "/transactions", request, &response); err != nil {
		return nil, core.SyncTargetCarrier{}, err
	}

	carrier := core.SyncTargetCarrier{TargetStateVersion: response.MaxStateVersion}

	if len(response.Transactions) == 0 {
		return nil, carrier, nil
	}

	now := time.Now().UTC()
	last := fromSummary
	transactions := make([]core.TransactionData, 0, len(response.Transactions))

	for i := range response.Transactions {
		tx, err := response.Transactions[i].toCore()
		if err != nil {
			return nil, core.SyncTargetCarrier{}, fmt.Errorf(
				"malformed transaction at state version %d: %w", response.Transactions[i].StateVersion, err)
		}

		summary := core.GenerateSummary(last, &tx, now)
		transactions = append(transactions, core.TransactionData{
			Transaction: tx,
			Summary:     summary,
		})
		last = summary
	}

	c.logger.Debug("fetched ledger extension",
		"from", request.FromStateVersion, "count", len(transactions), "target", carrier.TargetStateVersion)

	return &core.ConsistentLedgerExtension{
		ParentSummary: fromSummary,
		Transactions:  transactions,
	}, carrier, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(request, out)
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")

	return c.do(request, out)
}

func (c *Client) do(request *http.Request, out any) error {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("node request failed: %w", err)
	}

	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))

		return fmt.Errorf("node returned %d for %s: %s",
			response.StatusCode, request.URL.Path, string(body))
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed node response for %s: %w", request.URL.Path, err)
	}

	return nil
}

func decodeHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}

	return hex.DecodeString(s)
}
