package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"edusync/internal/domain/entity"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	userAgent            = "EduSync-Client/1.0"
)

// HTTP - Gateway поверх REST API сервера
type HTTP struct {
	client  *http.Client
	log     *slog.Logger
	baseURL string

	mu    sync.RWMutex
	token string
}

// BaseURL собирает адрес сервера с протоколом
func BaseURL(address string, enableTLS bool) string {
	scheme := "http://"
	if enableTLS {
		scheme = "https://"
	}
	return scheme + address
}

func NewHTTP(baseURL string, timeout time.Duration, log *slog.Logger) *HTTP {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &HTTP{
		client:  client,
		log:     log.With("component", "http_gateway"),
		baseURL: baseURL,
	}
}

// SetToken устанавливает токен аутентификации
func (h *HTTP) SetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

func (h *HTTP) authToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Health проверяет доступность сервера
func (h *HTTP) Health(ctx context.Context) error {
	return h.do(ctx, http.MethodGet, "/api/v1/health", nil, "", nil)
}

// Login возвращает токен сессии и запоминает его
func (h *HTTP) Login(ctx context.Context, login, password string) (string, error) {
	body, err := json.Marshal(struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}{Login: login, Password: password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := h.do(ctx, http.MethodPost, "/api/v1/auth/login", body, "", &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", StatusError(http.StatusBadGateway, "empty token in login response")
	}

	h.SetToken(resp.Token)
	return resp.Token, nil
}

func dataPath(kind entity.Kind, id ...int64) string {
	p := "/api/v1/data/" + url.PathEscape(string(kind))
	for _, v := range id {
		p += "/" + strconv.FormatInt(v, 10)
	}
	return p
}

func (h *HTTP) FetchCollection(ctx context.Context, kind entity.Kind, filter string) ([]json.RawMessage, error) {
	path := dataPath(kind)
	if filter != "" {
		path += "?" + url.Values{"filter": []string{filter}}.Encode()
	}

	var resp struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := h.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []json.RawMessage{}
	}
	return resp.Items, nil
}

func (h *HTTP) FetchOne(ctx context.Context, kind entity.Kind, id int64) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := h.do(ctx, http.MethodGet, dataPath(kind, id), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) Create(ctx context.Context, kind entity.Kind, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := h.do(ctx, http.MethodPost, dataPath(kind), payload, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) Update(ctx context.Context, kind entity.Kind, id int64, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := h.do(ctx, http.MethodPut, dataPath(kind, id), payload, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) Delete(ctx context.Context, kind entity.Kind, id int64, idempotencyKey string) error {
	err := h.do(ctx, http.MethodDelete, dataPath(kind, id), nil, idempotencyKey, nil)
	// повторное удаление уже удаленной сущности считаем успехом
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (h *HTTP) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, result any) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := h.authToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}

	h.log.Debug("sending request", "method", method, "url", req.URL.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return NetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NetworkError(fmt.Errorf("read response: %w", err))
	}

	h.log.Debug("received response", "status", resp.StatusCode, "bytes", len(data))

	if resp.StatusCode >= 400 {
		return StatusError(resp.StatusCode, problemDetail(data))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return &Error{Class: ClassServerFault, Status: resp.StatusCode, Message: "malformed response", Err: err}
		}
	}

	return nil
}

// problemDetail достает текст из ответа об ошибке (application/problem+json)
func problemDetail(body []byte) string {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return ""
	}
	switch {
	case problem.Detail != "":
		return problem.Detail
	case problem.Error != "":
		return problem.Error
	default:
		return problem.Title
	}
}

var _ Gateway = (*HTTP)(nil)
