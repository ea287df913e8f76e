package highlight

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/codedrop/internal/submit"
)

// outputPolicy admits the fragment structure built by RenderOutput plus
// light inline formatting in backend messages. Everything else is dropped.
var outputPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "pre", "span", "code", "b", "i", "em", "strong", "br")
	p.AllowAttrs("class").
		Matching(regexp.MustCompile(`^codedrop-[a-z-]+( codedrop-[a-z-]+)*$`)).
		OnElements("div", "pre", "span")
	return p
}()

// RenderOutput builds the output panel shown under a block after its
// submission completed. A successful submission without any execution or
// syntax output renders nothing. note is appended verbatim as text (used
// when the outcome could not be recorded).
func RenderOutput(res *submit.Result, note string) string {
	if res == nil {
		res = &submit.Result{}
	}
	d := res.Details
	if res.Success && !d.HasOutput() && note == "" {
		return ""
	}

	var b strings.Builder
	cls := "codedrop-output codedrop-output-success"
	if !res.Success {
		cls = "codedrop-output codedrop-output-error"
	}
	b.WriteString(`<div class="` + cls + `">`)

	if !res.Success && d.Message != "" {
		b.WriteString(`<div class="codedrop-message">`)
		b.WriteString(d.Message)
		b.WriteString(`</div>`)
	}
	section(&b, "syntax stdout", "codedrop-syntax-stdout", d.SyntaxStdout)
	section(&b, "syntax stderr", "codedrop-syntax-stderr", d.SyntaxStderr)
	section(&b, "stdout", "codedrop-run-stdout", d.RunStdout)
	section(&b, "stderr", "codedrop-run-stderr", d.RunStderr)
	if note != "" {
		b.WriteString(`<div class="codedrop-note">` + html.EscapeString(note) + `</div>`)
	}
	b.WriteString(`</div>`)

	return outputPolicy.Sanitize(b.String())
}

func section(b *strings.Builder, label, cls, text string) {
	if text == "" {
		return
	}
	b.WriteString(`<div class="codedrop-section">`)
	b.WriteString(`<span class="codedrop-label">` + label + `</span>`)
	b.WriteString(`<pre class="` + cls + `">` + html.EscapeString(text) + `</pre>`)
	b.WriteString(`</div>`)
}
