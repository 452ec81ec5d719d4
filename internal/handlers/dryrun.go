package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DryRun returns collaborators that perform no external calls. Text is
// echoed back, posts, pages and emails get fresh IDs and are logged.
// The CLI uses them when no real integrations are configured.
func DryRun(logger *slog.Logger) Collaborators {
	if logger == nil {
		logger = slog.Default()
	}
	d := &dryRun{logger: logger}
	return Collaborators{Text: d, Social: d, Pages: d, Email: d}
}

type dryRun struct {
	logger *slog.Logger
}

func (d *dryRun) Generate(ctx context.Context, prompt, model string) (string, error) {
	d.logger.DebugContext(ctx, "dry-run generate", "model", model, "prompt_len", len(prompt))
	return fmt.Sprintf("[%s] %s", model, strings.TrimSpace(prompt)), nil
}

func (d *dryRun) Publish(ctx context.Context, content, mediaRef string) (*PostDescriptor, error) {
	id := uuid.NewString()
	d.logger.InfoContext(ctx, "dry-run publish", "post_id", id, "content_len", len(content), "media_ref", mediaRef)
	return &PostDescriptor{
		ID:          id,
		URL:         "dryrun://posts/" + id,
		Network:     "dryrun",
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (d *dryRun) CreatePage(ctx context.Context, req PageRequest) (*PageDescriptor, error) {
	id := uuid.NewString()
	d.logger.InfoContext(ctx, "dry-run page", "page_id", id, "container", req.ContainerRef, "kind", req.Kind, "blocks", len(req.Blocks))
	return &PageDescriptor{
		ID:           id,
		URL:          "dryrun://pages/" + id,
		ContainerRef: req.ContainerRef,
		Title:        req.Title,
	}, nil
}

func (d *dryRun) SendTemplated(ctx context.Context, templateID, to, subject string, variables map[string]any) (*Receipt, error) {
	id := uuid.NewString()
	d.logger.InfoContext(ctx, "dry-run email", "message_id", id, "template", templateID, "to", to, "subject", subject, "vars", len(variables))
	return &Receipt{MessageID: id, To: to, Accepted: true}, nil
}
