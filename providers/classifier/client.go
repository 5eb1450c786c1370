package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"canna-directory/config"
	"canna-directory/providers"
)

// Client ruft einen externen KI-Endpunkt für Mapping-Vorschläge auf.
type Client struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient erstellt einen Client; liefert nil, wenn keine URL konfiguriert ist.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	if cfg.ClassifierURL == "" {
		return nil
	}
	timeout := cfg.ClassifierTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		URL:        cfg.ClassifierURL,
		APIKey:     cfg.ClassifierAPIKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

// Name gibt den Namen des Providers zurück.
func (c *Client) Name() string {
	return "classifier"
}

// Suggest sendet die Beispielzeilen und dekodiert den Vorschlag.
func (c *Client) Suggest(ctx context.Context, req providers.ClassifyRequest) (*providers.MappingSuggestion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	log := c.Logger.With(zap.String("url", c.URL), zap.Int("sample_rows", len(req.SampleRows)))
	log.Debug("Calling classifier for mapping suggestion.")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("Classifier returned non-200 status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)))
		return nil, fmt.Errorf("classifier request failed with status: %d", resp.StatusCode)
	}

	var suggestion providers.MappingSuggestion
	if err := json.NewDecoder(resp.Body).Decode(&suggestion); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	log.Info("Classifier suggested mapping", zap.Int("mappings", len(suggestion.Mappings)))
	return &suggestion, nil
}
