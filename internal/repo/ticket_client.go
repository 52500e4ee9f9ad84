package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// ErrInvalidTicketID marks a ticket id that is not a positive decimal number.
var ErrInvalidTicketID = errors.New("invalid ticket id")

// FetchError reports a ticket source response that was not 200 OK.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("ticket source returned %d: %s", e.Status, e.Message)
}

// TicketClientConfig configures the ticket source client.
type TicketClientConfig struct {
	BaseURL     string
	Email       string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	// FieldMapping maps custom field ids to display names. Unmapped fields are dropped.
	FieldMapping map[string]string
	RecordTTL    time.Duration
}

// TicketClient fetches ticket conversations from a Zendesk-compatible API.
type TicketClient struct {
	cfg        TicketClientConfig
	httpClient *http.Client
	cache      cache.Provider
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewTicketClient constructs a client targeting the configured ticket source.
func NewTicketClient(cfg TicketClientConfig, cacheProvider cache.Provider, logger *slog.Logger) *TicketClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TicketClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cacheProvider,
		logger:     logger,
		sleep:      sleepContext,
	}
}

type ticketPayload struct {
	Ticket struct {
		ID           int64  `json:"id"`
		Subject      string `json:"subject"`
		RequesterID  int64  `json:"requester_id"`
		CustomFields []struct {
			ID    json.Number `json:"id"`
			Value any         `json:"value"`
		} `json:"custom_fields"`
	} `json:"ticket"`
}

type commentsPayload struct {
	Comments []struct {
		AuthorID  int64     `json:"author_id"`
		Body      string    `json:"body"`
		Public    bool      `json:"public"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"comments"`
}

// FetchRecord returns the labelled conversation and mapped metadata for ticketID.
func (c *TicketClient) FetchRecord(ctx context.Context, ticketID string) (models.ConversationRecord, error) {
	if c == nil {
		return models.ConversationRecord{}, fmt.Errorf("ticket client not initialised")
	}
	if c.cfg.BaseURL == "" {
		return models.ConversationRecord{}, fmt.Errorf("ticket source base URL not configured")
	}
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return models.ConversationRecord{}, fmt.Errorf("ticket id is required")
	}
	if id, err := strconv.ParseUint(ticketID, 10, 64); err != nil || id == 0 {
		return models.ConversationRecord{}, fmt.Errorf("%w: %q", ErrInvalidTicketID, ticketID)
	}

	key := recordCacheKey(ticketID)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var cached models.ConversationRecord
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.ObserveTicketFetch("cache_hit")
			return cached, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("ticket cache read failed", slog.String("ticket_id", ticketID), slog.Any("error", err))
	}

	var ticket ticketPayload
	if err := c.getJSON(ctx, c.resolvePath("/api/v2/tickets", ticketID+".json"), &ticket); err != nil {
		metrics.ObserveTicketFetch(metrics.OutcomeError)
		return models.ConversationRecord{}, fmt.Errorf("fetch ticket %s: %w", ticketID, err)
	}
	var comments commentsPayload
	if err := c.getJSON(ctx, c.resolvePath("/api/v2/tickets", ticketID, "comments.json"), &comments); err != nil {
		metrics.ObserveTicketFetch(metrics.OutcomeError)
		return models.ConversationRecord{}, fmt.Errorf("fetch comments for ticket %s: %w", ticketID, err)
	}
	metrics.ObserveTicketFetch(metrics.OutcomeSuccess)

	utterances := make([]models.Utterance, 0, len(comments.Comments))
	for _, cm := range comments.Comments {
		role := models.RoleAgent
		switch {
		case cm.AuthorID != 0 && cm.AuthorID == ticket.Ticket.RequesterID:
			role = models.RoleCustomer
		case !cm.Public:
			role = models.RoleAgentInternal
		}
		utterances = append(utterances, models.Utterance{
			Role:      role,
			Author:    strconv.FormatInt(cm.AuthorID, 10),
			Timestamp: cm.CreatedAt,
			Body:      cm.Body,
		})
	}
	sort.SliceStable(utterances, func(i, j int) bool {
		return utterances[i].Timestamp.Before(utterances[j].Timestamp)
	})

	fields := make(map[string]string)
	for _, f := range ticket.Ticket.CustomFields {
		name, ok := c.cfg.FieldMapping[f.ID.String()]
		if !ok {
			continue
		}
		if value := fieldValue(f.Value); value != "" {
			fields[name] = value
		}
	}

	record := models.NewConversationRecord(ticketID, ticket.Ticket.Subject, utterances, fields)
	if c.cfg.RecordTTL > 0 {
		if payload, err := json.Marshal(record); err == nil {
			if err := c.cache.Set(ctx, key, payload, c.cfg.RecordTTL); err != nil {
				c.logger.Warn("ticket cache write failed", slog.String("ticket_id", ticketID), slog.Any("error", err))
			}
		}
	}
	return record, nil
}

// getJSON performs a GET with up to MaxAttempts tries. Only connection and timeout
// failures are retried; any non-200 response is returned immediately.
func (c *TicketClient) getJSON(ctx context.Context, endpoint string, out any) error {
	var lastErr error
	delay := c.cfg.BaseBackoff
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := c.getOnce(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !utils.IsRetryable(err) || ctx.Err() != nil || attempt == c.cfg.MaxAttempts {
			break
		}
		c.logger.Debug("ticket source request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return lastErr
}

func (c *TicketClient) getOnce(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Email != "" || c.cfg.Token != "" {
		req.SetBasicAuth(c.cfg.Email+"/token", c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewKindError(utils.KindMalformedOutput, "ticket source", "decode response", err)
	}
	return nil
}

func (c *TicketClient) resolvePath(parts ...string) string {
	cleaned := "/" + strings.TrimLeft(path.Join(parts...), "/")
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return c.cfg.BaseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func recordCacheKey(ticketID string) string {
	return "mirador-triage:record:" + ticketID
}

func fieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		if !val {
			return ""
		}
		return "true"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := fieldValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
