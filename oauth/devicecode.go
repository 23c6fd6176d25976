package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
)

// DeviceCodeConfig describes a device-authorization endpoint set
// (Copilot-style, §4.6 Device Code flow).
type DeviceCodeConfig struct {
	ClientID    string
	DeviceURL   string
	TokenURL    string
	Scopes      []string
}

// DeviceAuthorization is the server's response to the initial
// device-authorization POST.
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

// DeviceOutcome classifies one poll result (§4.6 step 3).
type DeviceOutcome int

const (
	DevicePending DeviceOutcome = iota
	DeviceSlowDown
	DeviceComplete
	DeviceError
)

var deviceClient = tlsutil.SecureHTTPClient(30 * time.Second)

// RequestDeviceAuthorization performs step 1: POST to the
// device-authorization endpoint.
func RequestDeviceAuthorization(ctx context.Context, cfg DeviceCodeConfig) (DeviceAuthorization, error) {
	form := url.Values{
		"client_id": {cfg.ClientID},
		"scope":     {strings.Join(cfg.Scopes, " ")},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.DeviceURL, strings.NewReader(form.Encode()))
	if err != nil {
		return DeviceAuthorization{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := deviceClient.Do(req)
	if err != nil {
		return DeviceAuthorization{}, err
	}
	defer resp.Body.Close()

	var decoded struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		Interval        int    `json:"interval"`
		ExpiresIn       int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return DeviceAuthorization{}, err
	}
	if decoded.Interval <= 0 {
		decoded.Interval = 5
	}
	return DeviceAuthorization{
		DeviceCode:      decoded.DeviceCode,
		UserCode:        decoded.UserCode,
		VerificationURI: decoded.VerificationURI,
		Interval:        time.Duration(decoded.Interval) * time.Second,
		ExpiresAt:       time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
	}, nil
}

// PollDeviceToken performs one poll of the token endpoint (§4.6 step 3),
// classifying the outcome. On DeviceComplete, tok is populated.
func PollDeviceToken(ctx context.Context, cfg DeviceCodeConfig, auth DeviceAuthorization) (DeviceOutcome, Token, error) {
	form := url.Values{
		"client_id":   {cfg.ClientID},
		"device_code": {auth.DeviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return DeviceError, Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := deviceClient.Do(req)
	if err != nil {
		return DeviceError, Token{}, err
	}
	defer resp.Body.Close()

	var decoded struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return DeviceError, Token{}, err
	}

	switch decoded.Error {
	case "":
		if decoded.AccessToken == "" {
			return DevicePending, Token{}, nil
		}
		return DeviceComplete, Token{
			AccessToken:  decoded.AccessToken,
			RefreshToken: decoded.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
			Scope:        decoded.Scope,
			CreatedAt:    time.Now(),
		}, nil
	case "authorization_pending":
		return DevicePending, Token{}, nil
	case "slow_down":
		return DeviceSlowDown, Token{}, nil
	default:
		return DeviceError, Token{}, fmt.Errorf("device code error: %s", decoded.Error)
	}
}

// RunDeviceCodeFlow drives the full poll loop (§4.6 step 3), backing off
// by 5s on SlowDown as the spec requires, and returns the completed
// token or the terminal error. onPrompt is invoked once with the
// user_code/verification_uri so the caller can surface it and open a
// browser.
func RunDeviceCodeFlow(ctx context.Context, cfg DeviceCodeConfig, onPrompt func(auth DeviceAuthorization)) (Token, error) {
	auth, err := RequestDeviceAuthorization(ctx, cfg)
	if err != nil {
		return Token{}, err
	}
	if onPrompt != nil {
		onPrompt(auth)
	}

	interval := auth.Interval
	for {
		if time.Now().After(auth.ExpiresAt) {
			return Token{}, fmt.Errorf("device code expired before authorization completed")
		}
		select {
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case <-time.After(interval):
		}

		outcome, tok, err := PollDeviceToken(ctx, cfg, auth)
		if err != nil {
			return Token{}, err
		}
		switch outcome {
		case DeviceComplete:
			return tok, nil
		case DeviceSlowDown:
			interval += 5 * time.Second
		case DeviceError:
			return Token{}, fmt.Errorf("device code flow failed")
		case DevicePending:
			// keep polling
		}
	}
}
