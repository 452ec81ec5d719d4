package handlers

import (
	"context"
	"sort"
	"strings"

	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Page kinds understood by document_create.
const (
	PageText    = "text"
	PageBullets = "bullets"
	PageTodo    = "todo"
	PageQuote   = "quote"
)

// PageBlock is one block of page content.
type PageBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Checked bool   `json:"checked,omitempty"`
}

// PageBuilder shapes rendered content into blocks for one page kind.
type PageBuilder func(content string) []PageBlock

var pageBuilders = map[string]PageBuilder{
	PageText:    paragraphBlocks,
	PageBullets: lineBlocks("bulleted_list_item"),
	PageTodo:    lineBlocks("to_do"),
	PageQuote: func(content string) []PageBlock {
		return []PageBlock{{Type: "quote", Text: strings.TrimSpace(content)}}
	},
}

// PageKinds returns the supported page kinds, sorted.
func PageKinds() []string {
	kinds := make([]string, 0, len(pageBuilders))
	for k := range pageBuilders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func paragraphBlocks(content string) []PageBlock {
	var blocks []PageBlock
	for _, para := range strings.Split(content, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			blocks = append(blocks, PageBlock{Type: "paragraph", Text: p})
		}
	}
	return blocks
}

// lineBlocks makes one block per non-empty line, dropping list markers.
func lineBlocks(blockType string) PageBuilder {
	return func(content string) []PageBlock {
		var blocks []PageBlock
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(line)
			checked := false
			switch {
			case strings.HasPrefix(line, "[x] "), strings.HasPrefix(line, "[X] "):
				checked = true
				line = line[4:]
			case strings.HasPrefix(line, "[ ] "):
				line = line[4:]
			case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
				line = line[2:]
			}
			if line == "" {
				continue
			}
			blocks = append(blocks, PageBlock{Type: blockType, Text: line, Checked: checked && blockType == "to_do"})
		}
		return blocks
	}
}

// DocumentCreateHandler creates a page in a workspace tool.
type DocumentCreateHandler struct {
	pages PageCreator
	opts  Options
}

// NewDocumentCreateHandler creates the document_create handler.
func NewDocumentCreateHandler(pages PageCreator, opts Options) *DocumentCreateHandler {
	return &DocumentCreateHandler{pages: pages, opts: opts.withDefaults()}
}

func (h *DocumentCreateHandler) Kind() schema.StepKind { return schema.KindDocumentCreate }

func (h *DocumentCreateHandler) Description() string {
	return "Create a page in a workspace tool"
}

func (h *DocumentCreateHandler) Execute(ctx context.Context, in StepInput) (any, error) {
	if h.pages == nil {
		return nil, schema.NewError(schema.ErrCodeHandlerUnavailable, "no page creator configured")
	}
	cfg, err := decodeConfig[schema.DocumentCreateConfig](in.Step)
	if err != nil {
		return nil, err
	}
	kind := cfg.PageKind
	if kind == "" {
		kind = PageText
	}
	build, ok := pageBuilders[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown page kind %q", kind)
	}

	lookup := expressions.MapLookup(in.Vars.Snapshot())
	title, err := h.opts.Templates.Render(cfg.Title, lookup)
	if err != nil {
		return nil, err
	}
	content, err := h.opts.Templates.Render(cfg.Content, lookup)
	if err != nil {
		return nil, err
	}

	return h.pages.CreatePage(ctx, PageRequest{
		ContainerRef: cfg.ContainerRef,
		Kind:         kind,
		Title:        title,
		Content:      content,
		Blocks:       build(content),
	})
}
