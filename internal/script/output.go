package script

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"io"
	"mime"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/peb/internal/render"
)

// RenderOptions controls how a completion becomes a page.
type RenderOptions struct {
	DisplayStderr bool
	Target        string
}

// Output is script stdout split into its CGI header block and body.
type Output struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// ParseOutput strips a leading CGI header block (Content-Type, Status,
// Location) when one is present. Output without one is all body.
func ParseOutput(stdout []byte) Output {
	if !looksLikeHeader(stdout) {
		return Output{Body: stdout}
	}

	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(stdout)))
	header, err := r.ReadMIMEHeader()
	if err != nil {
		return Output{Body: stdout}
	}
	body, _ := io.ReadAll(r.R)
	return Output{Header: header, Body: body}
}

func looksLikeHeader(b []byte) bool {
	line, _, _ := bytes.Cut(b, []byte("\n"))
	name, _, ok := bytes.Cut(line, []byte(":"))
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(string(name))) {
	case "content-type", "status", "location":
	default:
		return false
	}
	return bytes.Contains(b, []byte("\n\n")) || bytes.Contains(b, []byte("\r\n\r\n"))
}

// ToUTF8 converts data to UTF-8. A declared charset is trusted; otherwise
// the encoding is detected.
func ToUTF8(data []byte, declared string) []byte {
	if len(data) == 0 || (declared == "" && utf8.Valid(data)) {
		return data
	}

	label := declared
	if label == "" {
		result, err := chardet.NewTextDetector().DetectBest(data)
		if err != nil || result == nil {
			return data
		}
		label = strings.ToLower(result.Charset)
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(data))
	if err != nil {
		return data
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return out
}

// Render turns a completion into the page shown in the target frame.
func Render(c *Completion, opts RenderOptions) render.Page {
	switch c.Status {
	case StatusTimedOut:
		return render.ErrorPage(render.ErrorData{
			Title:   "Script timed out",
			Message: fmt.Sprintf("The script was stopped after %s.", c.Duration.Round(time.Millisecond)),
			Detail:  string(ToUTF8(c.Stderr, "")),
			Target:  opts.Target,
		})
	case StatusSpawnFailed:
		detail := ""
		if c.Err != nil {
			detail = c.Err.Error()
		}
		return render.ErrorPage(render.ErrorData{
			Title:   "Script could not be started",
			Message: "The interpreter is missing or not executable.",
			Detail:  detail,
			Target:  opts.Target,
		})
	case StatusCancelled:
		return render.ErrorPage(render.ErrorData{
			Title:   "Script cancelled",
			Message: "The script was stopped before it finished.",
			Target:  opts.Target,
		})
	}

	out := ParseOutput(c.Stdout)
	declaredType := out.Header.Get("Content-Type")
	declaredCharset := ""
	if declaredType != "" {
		if _, params, err := mime.ParseMediaType(declaredType); err == nil {
			declaredCharset = params["charset"]
		}
	}

	body := ToUTF8(out.Body, declaredCharset)
	stderr := ToUTF8(c.Stderr, "")

	if len(bytes.TrimSpace(body)) == 0 && c.ExitCode != 0 {
		return render.ErrorPage(render.ErrorData{
			Title:   "Script failed",
			Message: fmt.Sprintf("The script exited with status %d and produced no output.", c.ExitCode),
			Detail:  string(stderr),
			Target:  opts.Target,
		})
	}

	isHTML := isHTMLOutput(declaredType, body)
	page := render.Page{Content: body, Kind: render.KindScriptOutput, ContentType: render.ContentPlain}
	if isHTML {
		page.ContentType = render.ContentHTML
	}

	if opts.DisplayStderr && len(bytes.TrimSpace(stderr)) > 0 {
		page.Content = withStderrOverlay(body, stderr, isHTML)
		page.ContentType = render.ContentHTML
	}
	return page
}

func isHTMLOutput(declared string, body []byte) bool {
	if declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		return err == nil && (mediaType == "text/html" || mediaType == "application/xhtml+xml")
	}
	return mimetype.Detect(body).Is("text/html")
}

const overlayStyle = "position:fixed;bottom:0;left:0;right:0;max-height:40%;overflow:auto;" +
	"margin:0;padding:0.5em;background:#fff4f4;border-top:2px solid #c00;color:#600;" +
	"font-family:monospace;white-space:pre-wrap;z-index:2147483647"

// withStderrOverlay appends stderr as a fixed panel at the bottom of the page.
func withStderrOverlay(body, stderr []byte, isHTML bool) []byte {
	panel := `<pre id="peb-stderr" style="` + overlayStyle + `">` + html.EscapeString(string(stderr)) + `</pre>`

	if !isHTML {
		return []byte(`<!DOCTYPE html><html><body><pre>` + html.EscapeString(string(body)) + `</pre>` + panel + `</body></html>`)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return append(append([]byte{}, body...), panel...)
	}
	doc.Find("body").First().AppendHtml(panel)
	out, err := doc.Html()
	if err != nil {
		return append(append([]byte{}, body...), panel...)
	}
	return []byte(out)
}
