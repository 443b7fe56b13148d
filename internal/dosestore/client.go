// Package dosestore is the typed client for the external dose store API, the
// system of record for medications and dose events. All calls go through a
// circuit breaker so a flapping upstream degrades to cached data instead of
// hammering the network.
package dosestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pillpal/pillpald/internal/config"
	"github.com/pillpal/pillpald/internal/engine"
	apperrors "github.com/pillpal/pillpald/internal/errors"
)

// Medication is upstream medication metadata.
type Medication struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Dosage   string `json:"dosage,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Active   bool   `json:"active"`
}

// Insight is one upstream-generated adherence insight.
type Insight struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Level   string `json:"level,omitempty"`
	Created string `json:"created_at,omitempty"`
}

// Client provides dose store API access
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
}

// NewClient creates a new dose store client. When client credentials are
// configured the underlying transport refreshes bearer tokens on its own.
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10
	}

	httpClient := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = time.Duration(timeout) * time.Second
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "dosestore",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dose store breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		client:  httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

// doseRow is the wire shape of a dose. ScheduledAt stays a string until
// parsing so one malformed row cannot sink the whole snapshot.
type doseRow struct {
	ID           string `json:"id"`
	MedicationID string `json:"medication_id"`
	ScheduledAt  string `json:"scheduled_at"`
	Status       string `json:"status"`
	TakenAt      string `json:"taken_at,omitempty"`
	Medication   *struct {
		Name string `json:"name"`
	} `json:"medication,omitempty"`
}

// ListDoses fetches doses scheduled in [start, end]. Rows with unparseable
// timestamps are skipped with a warning rather than failing the fetch.
func (c *Client) ListDoses(ctx context.Context, start, end time.Time) ([]engine.Dose, error) {
	path := fmt.Sprintf("/api/v1/doses?start=%s&end=%s",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var rows []doseRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, apperrors.Wrap(err, "STORE_002", "failed to decode dose list")
	}

	doses := make([]engine.Dose, 0, len(rows))
	for _, row := range rows {
		scheduledAt, err := time.Parse(time.RFC3339, row.ScheduledAt)
		if err != nil {
			c.logger.Warn("skipping dose with malformed timestamp",
				zap.String("dose_id", row.ID),
				zap.String("scheduled_at", row.ScheduledAt))
			continue
		}

		d := engine.Dose{
			ID:           row.ID,
			MedicationID: row.MedicationID,
			ScheduledAt:  scheduledAt.Local(),
			Status:       engine.DoseStatus(row.Status),
		}
		if row.Medication != nil {
			d.MedicationName = row.Medication.Name
		}
		if row.TakenAt != "" {
			if takenAt, err := time.Parse(time.RFC3339, row.TakenAt); err == nil {
				local := takenAt.Local()
				d.TakenAt = &local
			}
		}
		doses = append(doses, d)
	}

	return doses, nil
}

// PatchDose updates the status of one dose upstream.
func (c *Client) PatchDose(ctx context.Context, doseID string, status engine.DoseStatus) error {
	payload, _ := json.Marshal(map[string]string{"status": string(status)})
	_, err := c.do(ctx, http.MethodPatch, "/api/v1/doses/"+doseID, payload)
	return err
}

// ListMedications fetches the medication catalogue.
func (c *Client) ListMedications(ctx context.Context) ([]Medication, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/medications", nil)
	if err != nil {
		return nil, err
	}

	var meds []Medication
	if err := json.Unmarshal(body, &meds); err != nil {
		return nil, apperrors.Wrap(err, "STORE_002", "failed to decode medication list")
	}
	return meds, nil
}

// Insights fetches upstream adherence insights.
func (c *Client) Insights(ctx context.Context) ([]Insight, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/insights", nil)
	if err != nil {
		return nil, err
	}

	var insights []Insight
	if err := json.Unmarshal(body, &insights); err != nil {
		return nil, apperrors.Wrap(err, "STORE_002", "failed to decode insights")
	}
	return insights, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, apperrors.Wrap(err, "STORE_001", "failed to create request")
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, apperrors.Wrap(err, "STORE_001", "dose store unreachable")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, apperrors.ErrDoseNotFound
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, apperrors.Wrap(
				fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
				"STORE_002", "dose store rejected request")
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperrors.Wrap(err, "STORE_001", "failed to read response")
		}
		return body, nil
	})
}
