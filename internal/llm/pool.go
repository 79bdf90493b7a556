package llm

import (
	"context"
	"errors"
	"log/slog"
)

// Pool fans one chat call across an ordered list of model endpoints. The
// first endpoint that streams any content wins the call; endpoints that
// fail before producing output are logged and skipped. Once an endpoint
// has delivered content the pool is committed to it, so a mid-stream
// failure is forwarded instead of silently switching models.
type Pool struct {
	clients []Client
	logger  *slog.Logger
}

// NewPool builds a pool over clients in priority order.
func NewPool(clients []Client, logger *slog.Logger) (*Pool, error) {
	if len(clients) == 0 {
		return nil, errors.New("llm: at least one model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		clients: clients,
		logger:  logger.With("component", "llm"),
	}, nil
}

// Model returns the primary model's identifier.
func (p *Pool) Model() string { return p.clients[0].Model() }

// Models lists every configured model in failover order.
func (p *Pool) Models() []string {
	names := make([]string, len(p.clients))
	for i, c := range p.clients {
		names[i] = c.Model()
	}
	return names
}

// Chat implements Client. When every endpoint fails before producing
// output, the last failure is emitted as the final chunk.
func (p *Pool) Chat(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		var lastErr error
		for i, client := range p.clients {
			if ctx.Err() != nil {
				return
			}

			stream, err := client.Chat(ctx, req)
			if err != nil {
				lastErr = err
				p.logFailure(client, err, i < len(p.clients)-1)
				continue
			}

			delivered := false
			failed := false
			for chunk := range stream {
				if chunk.Err != nil {
					if delivered {
						// Committed to this model; the caller sees the
						// failure rather than a silent model switch.
						send(ctx, out, chunk)
						return
					}
					lastErr = chunk.Err
					failed = true
					p.logFailure(client, chunk.Err, i < len(p.clients)-1)
					for range stream {
					}
					break
				}
				delivered = true
				if !send(ctx, out, chunk) {
					for range stream {
					}
					return
				}
				if chunk.Done {
					for range stream {
					}
					return
				}
			}
			if !failed {
				// Stream closed cleanly.
				return
			}
		}

		if lastErr == nil {
			lastErr = errors.New("llm: no usable model")
		}
		send(ctx, out, Chunk{Err: lastErr})
	}()

	return out, nil
}

func (p *Pool) logFailure(client Client, err error, hasNext bool) {
	kind := Classify(err)
	if kind == FailAuth {
		p.logger.Warn("model authentication failed",
			"model", client.Model(),
			"error", err,
		)
		return
	}
	p.logger.Info("model failed",
		"model", client.Model(),
		"kind", kind,
		"failover", hasNext,
		"error", err,
	)
}
