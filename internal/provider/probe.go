package provider

import (
	"context"
	"time"
)

// Status is the result of a connectivity probe.
type Status struct {
	Connected bool     `json:"connected"`
	Provider  string   `json:"provider,omitempty"`
	Models    []string `json:"models"`
	Error     string   `json:"error,omitempty"`
}

// Probe checks that p answers and lists its models within timeout.
func Probe(ctx context.Context, p Provider, timeout time.Duration) Status {
	if p == nil {
		return Status{Models: []string{}, Error: ErrNoProvider.Error()}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st := Status{Provider: p.ID(), Models: []string{}}
	if err := p.HealthCheck(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Connected = true
	models, err := p.ListModels(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	for _, m := range models {
		st.Models = append(st.Models, m.ID)
	}
	return st
}
