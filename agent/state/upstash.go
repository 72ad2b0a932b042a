package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultStoreKeyPrefix = "tutor:session:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	// TTL expires idle sessions. Every load slides it forward.
	TTL time.Duration `envconfig:"TTL" split_words:"true" default:"24h"`
}

// Enabled reports whether a REST endpoint is configured.
func (c UpstashRedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

var _ Store = (*UpstashRedisStore)(nil)

// UpstashRedisStore keeps one JSON document per session in Upstash Redis,
// spoken to through its REST endpoint.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type redisReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}

	store := &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        ttl,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

// Ping checks that the endpoint answers and the token is accepted.
func (s *UpstashRedisStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "PING")
	return err
}

// Load reads the session and, with a TTL set, pushes its expiry forward.
func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	if s.ttl > 0 {
		result, err = s.do(ctx, "GETEX", key, "EX", ttlSeconds(s.ttl))
	} else {
		result, err = s.do(ctx, "GET", key)
	}
	if err != nil {
		return nil, err
	}

	result = bytes.TrimSpace(result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	// Values come back as JSON strings holding the stored document.
	var doc string
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return &st, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if err := st.Validate(); err != nil {
		return err
	}
	key, err := s.redisKey(st.SessionID)
	if err != nil {
		return err
	}

	if st.Version <= 0 {
		st.Version = 1
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	args := []any{"SET", key, string(doc)}
	if s.ttl > 0 {
		args = append(args, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.do(ctx, args...)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.redisKey(sessionID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, "DEL", key)
	return err
}

func (s *UpstashRedisStore) redisKey(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	return strings.TrimSpace(s.keyPrefix) + sessionID, nil
}

// do sends one command as a JSON array and returns its result. Network
// failures and 5xx replies wrap ErrStoreUnavailable.
func (s *UpstashRedisStore) do(ctx context.Context, args ...any) (json.RawMessage, error) {
	if s == nil || s.httpClient == nil {
		return nil, errors.New("upstash redis store is not initialised")
	}
	if len(args) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrStoreUnavailable, err)
	}

	var reply redisReply
	decodeErr := json.Unmarshal(raw, &reply)
	if decodeErr == nil && reply.Error != "" {
		return nil, fmt.Errorf("redis %v: %s", args[0], reply.Error)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status=%d", ErrStoreUnavailable, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("redis status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case decodeErr != nil:
		return nil, fmt.Errorf("decode redis response: %w", decodeErr)
	}
	return reply.Result, nil
}

// ttlSeconds rounds up so a sub-second TTL never becomes "no expiry".
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
