package handlers

import (
	"context"

	"github.com/alexsaulik/promptfolio/internal/expressions"
)

// Options configures the built-in handlers.
type Options struct {
	Templates  *expressions.Renderer
	Paths      *expressions.PathResolver
	Comparator *expressions.Comparator

	// Retry and Breaker decorate the collaborator-backed handlers. Both
	// are off by default.
	Retry   RetryPolicy
	Breaker BreakerConfig
}

func (o Options) withDefaults() Options {
	if o.Templates == nil {
		o.Templates = expressions.NewRenderer(expressions.TemplateLenient)
	}
	if o.Paths == nil {
		o.Paths = expressions.NewPathResolver()
	}
	if o.Comparator == nil {
		o.Comparator = expressions.NewComparator()
	}
	return o
}

// resolveKey reads key from the snapshot; keys starting with "." are jq paths.
func (o Options) resolveKey(ctx context.Context, key string, snapshot map[string]any) (any, bool, error) {
	if expressions.IsPath(key) {
		return o.Paths.Lookup(ctx, key, snapshot)
	}
	v, ok := snapshot[key]
	return v, ok, nil
}

// RegisterBuiltins registers the six built-in handlers in reg.
func RegisterBuiltins(reg *Registry, collab Collaborators, opts Options) error {
	opts = opts.withDefaults()
	external := []Handler{
		NewAIGenerateHandler(collab.Text, opts),
		NewSocialPostHandler(collab.Social, opts),
		NewDocumentCreateHandler(collab.Pages, opts),
		NewEmailSendHandler(collab.Email, opts),
	}
	all := make([]Handler, 0, len(external)+2)
	for _, h := range external {
		// Breaker outside retry: one step visit counts once against the circuit.
		all = append(all, WithBreaker(WithRetry(h, opts.Retry), opts.Breaker))
	}
	all = append(all, NewDelayHandler(), NewConditionHandler(opts))
	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
