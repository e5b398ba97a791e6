package debugger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"html/template"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/antchfx/htmlquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/peb/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/peb/internal/shared/proc"
)

// Highlighter converts a source file to highlighted markup with the given
// line marked as current.
type Highlighter interface {
	Highlight(ctx context.Context, loc Location) (template.HTML, error)
}

// HighlighterFunc adapts a function to Highlighter.
type HighlighterFunc func(ctx context.Context, loc Location) (template.HTML, error)

// Highlight calls f.
func (f HighlighterFunc) Highlight(ctx context.Context, loc Location) (template.HTML, error) {
	return f(ctx, loc)
}

// CommandHighlighter runs an external source-viewer helper. Arguments may
// contain {file} and {line} placeholders; without {file} the file path is
// appended. The helper's HTML is sanitized before use.
type CommandHighlighter struct {
	Path    string
	Args    []string
	Env     []string
	Breaker *resilience.Breaker

	policy *bluemonday.Policy
}

// NewCommandHighlighter creates a helper-backed highlighter.
func NewCommandHighlighter(path string, args []string, breaker *resilience.Breaker) *CommandHighlighter {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class", "id").Globally()
	policy.AllowAttrs("style").OnElements("span", "pre", "div", "code", "td", "tr", "table")
	policy.AllowElements("span", "pre", "code", "div", "table", "tr", "td", "tbody")

	return &CommandHighlighter{Path: path, Args: args, Breaker: breaker, policy: policy}
}

// Highlight runs the helper.
func (h *CommandHighlighter) Highlight(ctx context.Context, loc Location) (template.HTML, error) {
	run := func() (template.HTML, error) {
		out, err := h.exec(ctx, loc)
		if err != nil {
			return "", err
		}
		return template.HTML(h.policy.Sanitize(extractBody(out))), nil
	}
	if h.Breaker == nil {
		return run()
	}
	return resilience.Call(h.Breaker, run)
}

func (h *CommandHighlighter) exec(ctx context.Context, loc Location) (string, error) {
	args := make([]string, 0, len(h.Args)+1)
	sawFile := false
	for _, a := range h.Args {
		if strings.Contains(a, "{file}") {
			sawFile = true
		}
		a = strings.ReplaceAll(a, "{file}", loc.File)
		a = strings.ReplaceAll(a, "{line}", strconv.Itoa(loc.Line))
		args = append(args, a)
	}
	if !sawFile {
		args = append(args, loc.File)
	}

	cmd := exec.CommandContext(ctx, h.Path, args...)
	proc.Bind(cmd)
	cmd.Env = h.Env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("source viewer failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return "", errors.New("source viewer produced no output")
	}
	return stdout.String(), nil
}

// extractBody returns the inner body of a full HTML document, or the input
// unchanged when it is a fragment.
func extractBody(s string) string {
	if !strings.Contains(strings.ToLower(s), "<body") {
		return s
	}
	doc, err := htmlquery.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	body := htmlquery.FindOne(doc, "//body")
	if body == nil {
		return s
	}
	return htmlquery.OutputHTML(body, false)
}

// ChromaHighlighter highlights in process.
type ChromaHighlighter struct {
	Style string
}

// Highlight reads the file and formats it with line numbers.
func (h ChromaHighlighter) Highlight(ctx context.Context, loc Location) (template.HTML, error) {
	src, err := os.ReadFile(loc.File)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lexer := lexers.Match(loc.File)
	if lexer == nil {
		lexer = lexers.Analyse(string(src))
	}
	if lexer == nil {
		lexer = lexers.Get("perl")
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(h.Style)
	if style == nil {
		style = styles.Fallback
	}

	opts := []chromahtml.Option{
		chromahtml.WithLineNumbers(true),
		chromahtml.WithLinkableLineNumbers(true, "L"),
	}
	if loc.Line > 0 {
		opts = append(opts, chromahtml.HighlightLines([][2]int{{loc.Line, loc.Line}}))
	}
	formatter := chromahtml.New(opts...)

	iterator, err := lexer.Tokenise(nil, string(src))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// FallbackHighlighter uses Secondary when Primary fails.
type FallbackHighlighter struct {
	Primary   Highlighter
	Secondary Highlighter
}

// Highlight tries Primary then Secondary.
func (h FallbackHighlighter) Highlight(ctx context.Context, loc Location) (template.HTML, error) {
	out, err := h.Primary.Highlight(ctx, loc)
	if err == nil || h.Secondary == nil || ctx.Err() != nil {
		return out, err
	}
	return h.Secondary.Highlight(ctx, loc)
}

type highlightKey struct {
	file  string
	line  int
	size  int64
	mtime int64
}

// CachedHighlighter memoizes results per file version and line.
type CachedHighlighter struct {
	next  Highlighter
	cache *lru.Cache[highlightKey, template.HTML]
}

// NewCachedHighlighter wraps next with an LRU of the given size.
func NewCachedHighlighter(next Highlighter, size int) (*CachedHighlighter, error) {
	cache, err := lru.New[highlightKey, template.HTML](size)
	if err != nil {
		return nil, err
	}
	return &CachedHighlighter{next: next, cache: cache}, nil
}

// Highlight returns a cached result when the file has not changed.
func (h *CachedHighlighter) Highlight(ctx context.Context, loc Location) (template.HTML, error) {
	info, err := os.Stat(loc.File)
	if err != nil {
		return h.next.Highlight(ctx, loc)
	}
	key := highlightKey{file: loc.File, line: loc.Line, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if out, ok := h.cache.Get(key); ok {
		return out, nil
	}
	out, err := h.next.Highlight(ctx, loc)
	if err == nil {
		h.cache.Add(key, out)
	}
	return out, err
}

// PlainSource renders the file as escaped text with line numbers and the
// current line marked. It is the degraded view used when highlighting is
// unavailable or too slow.
func PlainSource(loc Location) template.HTML {
	f, err := os.Open(loc.File)
	if err != nil {
		return template.HTML(`<pre class="source plain">` + html.EscapeString(loc.String()) + `</pre>`)
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString(`<pre class="source plain">`)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		text := html.EscapeString(scanner.Text())
		if n == loc.Line {
			fmt.Fprintf(&b, `<span id="L%d" class="current">%5d  %s</span>`+"\n", n, n, text)
		} else {
			fmt.Fprintf(&b, `<span id="L%d">%5d  %s</span>`+"\n", n, n, text)
		}
	}
	b.WriteString(`</pre>`)
	return template.HTML(b.String())
}
