package exchange

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oskarw/simtrader/internal/domain"
)

// RegistrationError reports a failed registration handshake with enough
// context (status code, response body) to diagnose without a debugger.
// Registration failures are fatal; the session never retries them.
type RegistrationError struct {
	Status int
	Body   string
	Err    error
}

func (e *RegistrationError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("registration failed: status %d: %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("registration failed: %v", e.Err)
	default:
		return fmt.Sprintf("registration failed: status %d: %s", e.Status, e.Body)
	}
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// RegistrarConfig holds everything needed for the registration call.
type RegistrarConfig struct {
	Options
	Scenario string
	Name     string
	Password string
	Timeout  time.Duration
}

// Registrar performs the one-shot handshake that exchanges the participant
// credentials for a session token and run id.
type Registrar struct {
	cfg    RegistrarConfig
	client *http.Client
	logger *slog.Logger
}

// NewRegistrar creates a Registrar for the given endpoint and credentials.
func NewRegistrar(cfg RegistrarConfig, logger *slog.Logger) *Registrar {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	transport := http.DefaultTransport
	if cfg.Secure && cfg.InsecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Registrar{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "registrar")),
	}
}

// Register issues the registration request and returns the immutable
// Session on success. Any transport failure, non-200 status, or a response
// missing token/run_id yields a *RegistrationError; callers must not open
// channels after a failed Register.
func (r *Registrar) Register(ctx context.Context) (domain.Session, error) {
	endpoint := httpEndpoint(r.cfg.Options, "/api/replays/"+r.cfg.Scenario+"/start")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Session{}, &RegistrationError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.Name)
	if r.cfg.Password != "" {
		req.Header.Set("X-Team-Password", r.cfg.Password)
	}

	r.logger.Info("registering",
		slog.String("endpoint", endpoint),
		slog.String("scenario", r.cfg.Scenario),
		slog.String("name", r.cfg.Name),
	)

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Session{}, &RegistrationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegisterBody))
	if err != nil {
		return domain.Session{}, &RegistrationError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Session{}, &RegistrationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var reg registrationResponse
	if err := json.Unmarshal(body, &reg); err != nil {
		return domain.Session{}, &RegistrationError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if reg.Token == "" || reg.RunID == "" {
		return domain.Session{}, &RegistrationError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
			Err:    errors.New("response missing token or run_id"),
		}
	}

	r.logger.Info("registered", slog.String("run_id", reg.RunID))

	return domain.Session{
		Host:     r.cfg.Host,
		Scenario: r.cfg.Scenario,
		Secure:   r.cfg.Secure,
		Name:     r.cfg.Name,
		Password: r.cfg.Password,
		Token:    reg.Token,
		RunID:    reg.RunID,
	}, nil
}
