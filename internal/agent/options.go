package agent

import (
	"github.com/squidbot/squidbot/internal/llm"
	"github.com/squidbot/squidbot/internal/tools"
)

// RunOption adjusts a single Run call.
type RunOption func(*runConfig)

type runConfig struct {
	llm    llm.Client
	extras []tools.Tool
}

// WithLLM overrides the loop's model client for this run only.
func WithLLM(client llm.Client) RunOption {
	return func(c *runConfig) {
		if client != nil {
			c.llm = client
		}
	}
}

// WithExtraTools binds additional tools for this run. Extras are
// offered to the model alongside registry tools and take dispatch
// precedence on a name clash, so callers can bind session-scoped
// tools without touching the shared registry.
func WithExtraTools(extras ...tools.Tool) RunOption {
	return func(c *runConfig) {
		c.extras = append(c.extras, extras...)
	}
}
