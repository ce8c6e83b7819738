// Package registry registers the process with a Eureka service registry and
// keeps the registration alive with periodic heartbeats. It has no
// interaction with the catalog write path.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultLeaseDuration     = 90 // seconds
)

// ErrNotRegistered is returned by a heartbeat the registry answered with 404,
// meaning the lease expired and the instance must re-register.
var ErrNotRegistered = errors.New("instance not registered")

// Config describes the instance announced to the registry.
type Config struct {
	// URL is the Eureka base URL, e.g. "http://eureka:8761/eureka".
	URL     string
	AppName string
	// InstanceHost is the address other services use to reach this process.
	// Resolved from the default route when empty.
	InstanceHost      string
	Port              int
	HeartbeatInterval time.Duration
}

// Client talks to a Eureka registry over its REST interface.
type Client struct {
	cfg        Config
	instanceID string
	http       *http.Client
	logger     *log.Logger
}

func New(cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("registry URL is required")
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		return nil, errors.New("app name is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.InstanceHost == "" {
		cfg.InstanceHost = localIP()
	}
	if logger == nil {
		logger = log.Default()
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = cfg.InstanceHost
	}

	return &Client{
		cfg:        cfg,
		instanceID: fmt.Sprintf("%s-%s", cfg.AppName, hostname),
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

// InstanceID returns the identifier announced to the registry.
func (c *Client) InstanceID() string { return c.instanceID }

// Run registers the instance, heartbeats until ctx is cancelled, and then
// deregisters. Registration is retried with exponential backoff; a heartbeat
// rejected with 404 triggers re-registration.
func (c *Client) Run(ctx context.Context) error {
	if err := c.registerWithRetry(ctx); err != nil {
		return err
	}
	c.logger.Printf("INFO registered %s as %s at %s:%d", c.cfg.AppName, c.instanceID, c.cfg.InstanceHost, c.cfg.Port)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Deregister(deregCtx); err != nil {
				c.logger.Printf("WARN deregister %s: %v", c.instanceID, err)
			}
			return ctx.Err()
		case <-ticker.C:
			err := c.Heartbeat(ctx)
			switch {
			case errors.Is(err, ErrNotRegistered):
				c.logger.Printf("WARN lease for %s expired, re-registering", c.instanceID)
				if err := c.registerWithRetry(ctx); err != nil {
					return err
				}
			case err != nil:
				c.logger.Printf("WARN heartbeat for %s: %v", c.instanceID, err)
			}
		}
	}
}

func (c *Client) registerWithRetry(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return c.Register(ctx)
	}, policy)
}

// Register announces the instance to the registry.
func (c *Client) Register(ctx context.Context) error {
	base := fmt.Sprintf("http://%s:%d", c.cfg.InstanceHost, c.cfg.Port)
	payload := map[string]any{
		"instance": map[string]any{
			"instanceId": c.instanceID,
			"app":        strings.ToUpper(c.cfg.AppName),
			"hostName":   c.cfg.InstanceHost,
			"ipAddr":     c.cfg.InstanceHost,
			"status":     "UP",
			"port": map[string]any{
				"$":        c.cfg.Port,
				"@enabled": "true",
			},
			"dataCenterInfo": map[string]any{
				"@class": "com.netflix.appinfo.InstanceInfo$DefaultDataCenterInfo",
				"name":   "MyOwn",
			},
			"leaseInfo": map[string]any{
				"renewalIntervalInSecs": int(c.cfg.HeartbeatInterval / time.Second),
				"durationInSecs":        defaultLeaseDuration,
			},
			"homePageUrl":    base + "/",
			"statusPageUrl":  base + "/health",
			"healthCheckUrl": base + "/health",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/apps/%s", strings.TrimRight(c.cfg.URL, "/"), strings.ToUpper(c.cfg.AppName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register %s: unexpected status %d", c.instanceID, resp.StatusCode)
	}
	return nil
}

// Heartbeat renews the instance lease.
func (c *Client) Heartbeat(ctx context.Context) error {
	url := fmt.Sprintf("%s/apps/%s/%s", strings.TrimRight(c.cfg.URL, "/"), strings.ToUpper(c.cfg.AppName), c.instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotRegistered
	default:
		return fmt.Errorf("heartbeat %s: unexpected status %d", c.instanceID, resp.StatusCode)
	}
}

// Deregister removes the instance from the registry.
func (c *Client) Deregister(ctx context.Context) error {
	url := fmt.Sprintf("%s/apps/%s/%s", strings.TrimRight(c.cfg.URL, "/"), strings.ToUpper(c.cfg.AppName), c.instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("deregister %s: unexpected status %d", c.instanceID, resp.StatusCode)
	}
	return nil
}

// localIP guesses the address used for outbound traffic. Falls back to
// loopback when the host has no route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
