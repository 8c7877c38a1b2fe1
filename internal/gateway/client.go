package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tublink/tublink-core/internal/infrastructure/config"
)

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Client talks to the spa vendor's cloud API over HTTPS. It handles
// token authentication with refresh, maps HTTP failures onto the package
// error taxonomy, and routes every request through the shared Guard.
type Client struct {
	cfg        config.CloudConfig
	httpClient *http.Client
	guard      *Guard
	log        Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a cloud API client. The guard must be the shared
// process-wide instance so throttles seen here pause all other callers.
func NewClient(cfg config.CloudConfig, guard *Guard, log Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.GetRequestTimeout(),
		},
		guard: guard,
		log:   log,
	}
}

// Wire formats used by the cloud API.

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type lightDTO struct {
	Zone      int    `json:"zone"`
	Mode      string `json:"mode"`
	Intensity int    `json:"intensity"`
	Red       *int   `json:"red,omitempty"`
	Green     *int   `json:"green,omitempty"`
	Blue      *int   `json:"blue,omitempty"`
}

type pumpDTO struct {
	Zone  int    `json:"zone"`
	Type  string `json:"type"`
	State string `json:"state"`
	Speed int    `json:"speed"`
}

type statusDTO struct {
	WaterTemperature float64 `json:"water_temperature"`
	SetTemperature   float64 `json:"set_temperature"`
	HeatMode         string  `json:"heat_mode"`
	Heater           string  `json:"heater"`
}

type errorDTO struct {
	Message string `json:"message"`
}

// Snapshot reads the full spa state: status, lights, and pumps.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		SpaID:      c.cfg.SpaID,
		Taken:      time.Now(),
		Components: make(map[TargetID]Properties),
	}

	var status statusDTO
	if err := c.get(ctx, c.spaPath("status"), &status); err != nil {
		return nil, err
	}
	snap.Components[TargetID{Kind: KindStatus}] = Properties{
		"water_temperature": status.WaterTemperature,
	}
	snap.Components[TargetID{Kind: KindHeater}] = Properties{
		"target_temperature": status.SetTemperature,
		"heat_mode":          status.HeatMode,
		"heater":             status.Heater,
	}

	var lights []lightDTO
	if err := c.get(ctx, c.spaPath("lights"), &lights); err != nil {
		return nil, err
	}
	for _, l := range lights {
		snap.Components[TargetID{Kind: KindLight, Zone: l.Zone}] = lightProperties(l)
	}

	var pumps []pumpDTO
	if err := c.get(ctx, c.spaPath("pumps"), &pumps); err != nil {
		return nil, err
	}
	for _, p := range pumps {
		snap.Components[TargetID{Kind: KindPump, Zone: p.Zone}] = Properties{
			"type":  p.Type,
			"state": p.State,
			"speed": p.Speed,
		}
	}

	return snap, nil
}

// ComponentState reads the current properties of one component. Only the
// collection the target belongs to is fetched.
func (c *Client) ComponentState(ctx context.Context, target TargetID) (Properties, error) {
	switch target.Kind {
	case KindLight:
		var lights []lightDTO
		if err := c.get(ctx, c.spaPath("lights"), &lights); err != nil {
			return nil, err
		}
		for _, l := range lights {
			if l.Zone == target.Zone {
				return lightProperties(l), nil
			}
		}
		return nil, &ValidationError{Status: http.StatusNotFound, Message: fmt.Sprintf("light zone %d not reported", target.Zone)}

	case KindPump:
		var pumps []pumpDTO
		if err := c.get(ctx, c.spaPath("pumps"), &pumps); err != nil {
			return nil, err
		}
		for _, p := range pumps {
			if p.Zone == target.Zone {
				return Properties{"type": p.Type, "state": p.State, "speed": p.Speed}, nil
			}
		}
		return nil, &ValidationError{Status: http.StatusNotFound, Message: fmt.Sprintf("pump zone %d not reported", target.Zone)}

	case KindHeater:
		var status statusDTO
		if err := c.get(ctx, c.spaPath("status"), &status); err != nil {
			return nil, err
		}
		return Properties{
			"target_temperature": status.SetTemperature,
			"heat_mode":          status.HeatMode,
			"heater":             status.Heater,
		}, nil

	case KindStatus:
		var status statusDTO
		if err := c.get(ctx, c.spaPath("status"), &status); err != nil {
			return nil, err
		}
		return Properties{"water_temperature": status.WaterTemperature}, nil
	}

	return nil, ErrUnknownTarget
}

// SetLight writes mode and intensity (and RGB when present) to a zone.
func (c *Client) SetLight(ctx context.Context, zone int, state LightState) error {
	body := map[string]any{
		"mode":      state.Mode,
		"intensity": state.Intensity,
	}
	if state.RGB != nil {
		body["red"] = state.RGB.R
		body["green"] = state.RGB.G
		body["blue"] = state.RGB.B
	}
	return c.send(ctx, http.MethodPatch, c.spaPath("lights/"+strconv.Itoa(zone)), body)
}

// SetHeater writes the target water temperature in Celsius.
func (c *Client) SetHeater(ctx context.Context, tempC float64) error {
	return c.send(ctx, http.MethodPatch, c.spaPath("config"), map[string]any{
		"set_temperature": tempC,
	})
}

// SetHeatMode writes the heater operating mode.
func (c *Client) SetHeatMode(ctx context.Context, mode string) error {
	return c.send(ctx, http.MethodPatch, c.spaPath("config"), map[string]any{
		"heat_mode": mode,
	})
}

// TogglePump advances a pump one step through its cycle. The cloud API
// has no absolute pump write; callers toggle and re-read until the pump
// reports the wanted state.
func (c *Client) TogglePump(ctx context.Context, zone int) error {
	return c.send(ctx, http.MethodPost, c.spaPath("pumps/"+strconv.Itoa(zone)+"/toggle"), nil)
}

func lightProperties(l lightDTO) Properties {
	props := Properties{
		"mode":      l.Mode,
		"intensity": l.Intensity,
	}
	if l.Red != nil {
		props["red"] = *l.Red
	}
	if l.Green != nil {
		props["green"] = *l.Green
	}
	if l.Blue != nil {
		props["blue"] = *l.Blue
	}
	return props
}

func (c *Client) spaPath(suffix string) string {
	return "/spas/" + c.cfg.SpaID + "/" + suffix
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// send performs an authenticated write request, discarding the body.
func (c *Client) send(ctx context.Context, method, path string, body any) error {
	return c.do(ctx, method, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.guard.Wait(ctx); err != nil {
		return err
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, method, path, body, token)
	if err != nil {
		return err
	}

	// A stale token gets one re-authentication before giving up.
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.invalidateToken()
		token, err = c.ensureToken(ctx)
		if err != nil {
			return err
		}
		resp, err = c.request(ctx, method, path, body, token)
		if err != nil {
			return err
		}
	}

	return c.finish(method, path, resp, out)
}

// request builds and executes a single HTTP request. Network-level
// failures come back as TransportError.
func (c *Client) request(ctx context.Context, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

// finish classifies the response status and decodes the body on success.
func (c *Client) finish(method, path string, resp *http.Response, out any) error {
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.guard.RecordSuccess()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Op: method + " " + path, Err: fmt.Errorf("decoding response: %w", err)}
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		window := c.guard.RecordThrottle(retryAfter)
		if c.log != nil {
			c.log.Warn("cloud API throttled",
				"path", path,
				"retry_after", retryAfter,
				"backoff", window)
		}
		return &ThrottledError{RetryAfter: retryAfter}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ValidationError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}

	default:
		return &TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode),
		}
	}
}

// ensureToken returns a valid bearer token, authenticating when the
// cached one is missing or inside the refresh margin.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	margin := c.cfg.GetTokenRefreshMargin()
	if c.token != "" && time.Now().Add(margin).Before(c.tokenExpiry) {
		return c.token, nil
	}

	data, err := json.Marshal(authRequest{Email: c.cfg.Email, Password: c.cfg.Password})
	if err != nil {
		return "", fmt.Errorf("gateway: encoding auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gateway: building auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Op: "POST /auth", Err: err}
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrNotAuthenticated
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.guard.RecordThrottle(retryAfter)
		return "", &ThrottledError{RetryAfter: retryAfter}
	default:
		return "", &TransportError{Op: "POST /auth", Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode)}
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", &TransportError{Op: "POST /auth", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if auth.AccessToken == "" {
		return "", ErrNotAuthenticated
	}

	c.token = auth.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	if c.log != nil {
		c.log.Debug("cloud API token refreshed", "expires_in", auth.ExpiresIn)
	}
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// parseRetryAfter handles the delay-seconds form of the header. The
// HTTP-date form is rare enough from this API that it falls back to zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func readErrorMessage(body io.Reader) string {
	var dto errorDTO
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&dto); err == nil && dto.Message != "" {
		return dto.Message
	}
	return "no detail provided"
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	resp.Body.Close()
}
