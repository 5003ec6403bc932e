package recognition

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"doctools/internal/logging"
	"doctools/internal/services"
)

const (
	defaultBaiduTokenURL = "https://aip.baidubce.com/oauth/2.0/token"
	defaultBaiduEndpoint = "https://aip.baidubce.com/rest/2.0/ocr/v1/general_basic"
	defaultBaiduTimeout  = 30 * time.Second
	tokenRefreshLeeway   = 24 * time.Hour
	maxResponseBytes     = 8 << 20
)

// Baidu error codes for an invalid or expired access token.
const (
	errCodeTokenInvalid = 110
	errCodeTokenExpired = 111
)

// HTTPDoer is the subset of *http.Client used by the engine.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BaiduOption customises a BaiduEngine.
type BaiduOption func(*BaiduEngine)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client HTTPDoer) BaiduOption {
	return func(e *BaiduEngine) {
		if client != nil {
			e.http = client
		}
	}
}

// WithEndpoints overrides the token and recognition URLs.
func WithEndpoints(tokenURL, endpoint string) BaiduOption {
	return func(e *BaiduEngine) {
		if tokenURL = strings.TrimSpace(tokenURL); tokenURL != "" {
			e.tokenURL = tokenURL
		}
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			e.endpoint = endpoint
		}
	}
}

// WithRateLimit paces recognition requests. A non-positive rps disables
// pacing.
func WithRateLimit(rps float64) BaiduOption {
	return func(e *BaiduEngine) {
		if rps <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBaiduLogger sets the engine logger.
func WithBaiduLogger(logger *slog.Logger) BaiduOption {
	return func(e *BaiduEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) BaiduOption {
	return func(e *BaiduEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// BaiduEngine recognises text through the Baidu general_basic OCR API.
type BaiduEngine struct {
	creds    Credentials
	http     HTTPDoer
	tokenURL string
	endpoint string
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	tokenMu      sync.Mutex
	token        string
	tokenExpires time.Time
}

// NewBaiduEngine constructs an engine for creds.
func NewBaiduEngine(creds Credentials, opts ...BaiduOption) (*BaiduEngine, error) {
	if !creds.Valid() {
		return nil, services.Wrap(services.ErrConfiguration, "recognition", "baidu", "api key and secret key are required", nil)
	}
	e := &BaiduEngine{
		creds:    creds,
		http:     &http.Client{Timeout: defaultBaiduTimeout},
		tokenURL: defaultBaiduTokenURL,
		endpoint: defaultBaiduEndpoint,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "baidu")
	return e, nil
}

func (e *BaiduEngine) Name() string { return "baidu" }

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type recognizeResponse struct {
	LogID       uint64 `json:"log_id"`
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	WordsResult []struct {
		Words string `json:"words"`
	} `json:"words_result"`
}

// accessToken returns the cached token, exchanging the credentials first
// when none is cached or the cached one is about to expire.
func (e *BaiduEngine) accessToken(ctx context.Context) (string, error) {
	e.tokenMu.Lock()
	defer e.tokenMu.Unlock()
	if e.token != "" && e.now().Before(e.tokenExpires) {
		return e.token, nil
	}

	query := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {e.creds.APIKey},
		"client_secret": {e.creds.SecretKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "recognition", "baidu token", "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	var payload tokenResponse
	if err := e.doJSON(req, "baidu token", &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		detail := strings.TrimSpace(payload.ErrorDescription)
		if detail == "" {
			detail = "no access token returned"
		}
		return "", services.Wrap(services.ErrConfiguration, "recognition", "baidu token",
			"api key and secret key rejected: "+detail, nil)
	}

	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime > 2*tokenRefreshLeeway {
		lifetime -= tokenRefreshLeeway
	} else {
		lifetime /= 2
	}
	e.token = payload.AccessToken
	e.tokenExpires = e.now().Add(lifetime)
	e.logger.Debug("baidu access token refreshed", logging.Duration("valid_for", lifetime))
	return e.token, nil
}

func (e *BaiduEngine) invalidateToken() {
	e.tokenMu.Lock()
	e.token = ""
	e.tokenMu.Unlock()
}

// Recognize sends one input to the API. A token the service reports as
// invalid or expired is refreshed once before the request is retried.
func (e *BaiduEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	form, err := encodeForm(in)
	if err != nil {
		return Result{}, err
	}
	for attempt := 0; ; attempt++ {
		result, code, err := e.recognizeOnce(ctx, in.ID, form)
		if err != nil && attempt == 0 && (code == errCodeTokenInvalid || code == errCodeTokenExpired) {
			e.logger.Debug("baidu access token rejected; refreshing", logging.Int("error_code", code))
			e.invalidateToken()
			continue
		}
		return result, err
	}
}

func (e *BaiduEngine) recognizeOnce(ctx context.Context, id, form string) (Result, int, error) {
	token, err := e.accessToken(ctx)
	if err != nil {
		return Result{}, 0, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, 0, err
	}

	endpoint := e.endpoint + "?" + url.Values{"access_token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return Result{}, 0, services.Wrap(services.ErrConfiguration, "recognition", "baidu recognize", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var payload recognizeResponse
	if err := e.doJSON(req, "baidu recognize", &payload); err != nil {
		return Result{}, 0, err
	}
	if payload.ErrorCode != 0 {
		return Result{}, payload.ErrorCode, services.Wrap(services.ErrTransport, "recognition", "baidu recognize",
			fmt.Sprintf("error_code %d: %s", payload.ErrorCode, strings.TrimSpace(payload.ErrorMsg)), nil)
	}

	lines := make([]string, 0, len(payload.WordsResult))
	for _, w := range payload.WordsResult {
		lines = append(lines, w.Words)
	}
	return Result{ID: id, Text: strings.Join(lines, "\n"), Lines: lines}, 0, nil
}

func (e *BaiduEngine) doJSON(req *http.Request, op string, out any) error {
	resp, err := e.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return services.Wrap(services.ErrTransport, "recognition", op, "http request", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return services.Wrap(services.ErrTransport, "recognition", op, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrTransport, "recognition", op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, summarize(body)), nil)
	}
	// The API answers in JSON regardless of the declared content type.
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrTransport, "recognition", op,
			fmt.Sprintf("decode response %s", summarize(body)), err)
	}
	return nil
}

// CloseIdleConnections releases pooled connections when the client supports
// it.
func (e *BaiduEngine) CloseIdleConnections() {
	if c, ok := e.http.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func encodeForm(in Input) (string, error) {
	values := url.Values{}
	switch in.Kind {
	case KindURL:
		if strings.TrimSpace(in.URL) == "" {
			return "", services.Wrap(services.ErrValidation, "recognition", "encode", "url input without a url", nil)
		}
		values.Set("url", in.URL)
	case KindPDF:
		if len(in.Data) == 0 {
			return "", services.Wrap(services.ErrValidation, "recognition", "encode", "empty pdf payload", nil)
		}
		values.Set("pdf_file", base64.StdEncoding.EncodeToString(in.Data))
	case KindImage:
		if len(in.Data) == 0 {
			return "", services.Wrap(services.ErrValidation, "recognition", "encode", "empty image payload", nil)
		}
		values.Set("image", base64.StdEncoding.EncodeToString(in.Data))
	default:
		return "", services.Wrap(services.ErrValidation, "recognition", "encode",
			fmt.Sprintf("unsupported input kind %q", in.Kind), nil)
	}
	return values.Encode(), nil
}

func summarize(body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
