package client

import (
	"context"
	"time"

	"dms-go/internal/config"
)

// Status is the liveness of the server as seen by a Probe.
type Status string

const (
	StatusOnline  Status = "online"
	StatusWaiting Status = "waiting"
)

// ProbePolicy controls how a Probe polls /check_connection.
type ProbePolicy struct {
	// InitialDelay is how long a failing server is given before the probe
	// reports StatusWaiting.
	InitialDelay time.Duration
	// PollInterval separates attempts once the server has failed once.
	PollInterval time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
}

// DefaultProbePolicy waits 5s before warning, polls every second and gives
// each attempt 2s.
var DefaultProbePolicy = ProbePolicy{
	InitialDelay: 5 * time.Second,
	PollInterval: time.Second,
	Timeout:      2 * time.Second,
}

// ProbePolicyFromConfig reads the probe_* fields of the [client] section.
func ProbePolicyFromConfig(cfg config.ClientConfig) (ProbePolicy, error) {
	p := DefaultProbePolicy
	var err error
	if p.InitialDelay, err = config.ParseDurationOrDefault("client.probe_initial_delay", cfg.ProbeInitialDelay, p.InitialDelay); err != nil {
		return ProbePolicy{}, err
	}
	if p.PollInterval, err = config.ParseDurationOrDefault("client.probe_poll_interval", cfg.ProbePollInterval, p.PollInterval); err != nil {
		return ProbePolicy{}, err
	}
	if p.Timeout, err = config.ParseDurationOrDefault("client.probe_timeout", cfg.ProbeTimeout, p.Timeout); err != nil {
		return ProbePolicy{}, err
	}
	return p, nil
}

// Probe waits for the server to answer /check_connection. It reports
// StatusWaiting through notify once the server has been failing for
// InitialDelay, and StatusOnline when an attempt succeeds. It returns nil
// once the server is online, or ctx.Err() if ctx ends first.
func (c *Client) Probe(ctx context.Context, policy ProbePolicy, notify func(Status)) error {
	if notify == nil {
		notify = func(Status) {}
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultProbePolicy.PollInterval
	}

	if c.attempt(ctx, policy.Timeout) {
		notify(StatusOnline)
		return nil
	}

	warn := time.NewTimer(policy.InitialDelay)
	defer warn.Stop()
	poll := time.NewTicker(policy.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-warn.C:
			notify(StatusWaiting)
		case <-poll.C:
			if c.attempt(ctx, policy.Timeout) {
				notify(StatusOnline)
				return nil
			}
		}
	}
}

func (c *Client) attempt(ctx context.Context, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.CheckConnection(ctx) == nil
}
