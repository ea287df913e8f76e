package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/codedrop/internal/document"
)

// HandleAttr is the attribute carrying the handle of a block element.
const HandleAttr = "data-codedrop-id"

// Handles are assigned lazily by Candidates and persist on the element
// across text changes. The counter lives on <html> so it survives a
// reconnect of the daemon without reusing ids.
const candidatesJS = `(sel) => {
	const root = document.documentElement;
	let next = Number(root.dataset.codedropSeq || "0");
	const out = [];
	document.querySelectorAll(sel).forEach((el) => {
		if (el.closest(".codedrop-output")) return;
		if (!el.dataset.codedropId) {
			next++;
			el.dataset.codedropId = "cd" + next;
		}
		const code = el.querySelector("code");
		out.push({id: el.dataset.codedropId, text: (code || el).textContent || ""});
	});
	root.dataset.codedropSeq = String(next);
	return out;
}`

const textJS = `(id) => {
	const el = document.querySelector('[data-codedrop-id="' + CSS.escape(id) + '"]');
	if (!el) return {ok: false, text: ""};
	const code = el.querySelector("code");
	return {ok: true, text: (code || el).textContent || ""};
}`

const setStateJS = `(id, state) => {
	const el = document.querySelector('[data-codedrop-id="' + CSS.escape(id) + '"]');
	if (!el) return false;
	el.classList.remove("codedrop-pending", "codedrop-submitting", "codedrop-success", "codedrop-error");
	if (state) {
		el.classList.add("codedrop-" + state);
		el.dataset.codedropState = state;
	} else {
		delete el.dataset.codedropState;
	}
	return true;
}`

const renderOutputJS = `(id, html) => {
	const el = document.querySelector('[data-codedrop-id="' + CSS.escape(id) + '"]');
	if (!el) return false;
	const old = document.querySelector('.codedrop-output[data-codedrop-for="' + CSS.escape(id) + '"]');
	if (old) old.remove();
	if (!html) return true;
	const panel = document.createElement("div");
	panel.className = "codedrop-output";
	panel.dataset.codedropFor = id;
	panel.innerHTML = html;
	el.insertAdjacentElement("afterend", panel);
	return true;
}`

const styleJS = `(css) => {
	if (document.getElementById("codedrop-style")) return;
	const s = document.createElement("style");
	s.id = "codedrop-style";
	s.textContent = css;
	(document.head || document.documentElement).appendChild(s);
}`

// styleOnLoadJS re-applies styleJS on every new document of the tab. It
// runs before the document has an element to attach to.
const styleOnLoadJS = `(() => {
	const install = () => (%s)(%s);
	if (document.documentElement) install();
	else document.addEventListener("DOMContentLoaded", install, {once: true});
})();`

const stylesheet = `
.codedrop-pending { outline: 2px dashed #d9a400; }
.codedrop-submitting { outline: 2px solid #2f6fde; }
.codedrop-success { outline: 2px solid #2e9d4f; }
.codedrop-error { outline: 2px solid #d2383a; }
.codedrop-output { font-size: 12px; margin: 4px 0 12px; }
.codedrop-output-error .codedrop-message { color: #d2383a; }
.codedrop-output pre { white-space: pre-wrap; margin: 2px 0; }
.codedrop-label { font-weight: bold; }
`

// Host is the document.Host of one tab, backed by CDP evaluations.
type Host struct {
	tab       *Tab
	container string
	timeout   time.Duration
	removeCSS func() error
}

// NewHost creates a Host for tab. container is the CSS selector of code
// block elements (default "pre").
func NewHost(tab *Tab, container string) *Host {
	if container == "" {
		container = "pre"
	}
	return &Host{tab: tab, container: container, timeout: 5 * time.Second}
}

// Install injects the visual cue stylesheet into the current document and
// registers it for every later one, so cues stay styled across reloads and
// navigations. Safe to call repeatedly.
func (h *Host) Install(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	page := h.tab.Page.Context(ctx)

	if h.removeCSS == nil {
		css, err := json.Marshal(stylesheet)
		if err != nil {
			return fmt.Errorf("browser: install stylesheet: %w", err)
		}
		// Registered without ctx: the returned remove must outlive it.
		remove, err := h.tab.Page.EvalOnNewDocument(fmt.Sprintf(styleOnLoadJS, styleJS, css))
		if err != nil {
			return fmt.Errorf("browser: register stylesheet: %w", err)
		}
		h.removeCSS = remove
	}
	if _, err := page.Eval(styleJS, stylesheet); err != nil {
		return fmt.Errorf("browser: install stylesheet: %w", err)
	}
	return nil
}

// Close unregisters the stylesheet from future documents. The current
// document keeps it.
func (h *Host) Close() error {
	if h.removeCSS == nil {
		return nil
	}
	remove := h.removeCSS
	h.removeCSS = nil
	if err := remove(); err != nil {
		return fmt.Errorf("browser: unregister stylesheet: %w", err)
	}
	return nil
}

func (h *Host) Candidates(ctx context.Context) ([]document.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.tab.Page.Context(ctx).Eval(candidatesJS, h.container)
	if err != nil {
		return nil, fmt.Errorf("browser: list candidates: %w", err)
	}
	var raw []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("browser: decode candidates: %w", err)
	}

	out := make([]document.Candidate, len(raw))
	for i, r := range raw {
		out[i] = document.Candidate{Handle: document.Handle(r.ID), Text: r.Text}
	}
	return out, nil
}

func (h *Host) Text(ctx context.Context, hd document.Handle) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.tab.Page.Context(ctx).Eval(textJS, string(hd))
	if err != nil {
		return "", false, fmt.Errorf("browser: read text: %w", err)
	}
	var r struct {
		OK   bool   `json:"ok"`
		Text string `json:"text"`
	}
	if err := res.Value.Unmarshal(&r); err != nil {
		return "", false, fmt.Errorf("browser: decode text: %w", err)
	}
	return r.Text, r.OK, nil
}

func (h *Host) SetState(ctx context.Context, hd document.Handle, s document.State) error {
	return h.call(ctx, "set state", setStateJS, string(hd), string(s))
}

func (h *Host) RenderOutput(ctx context.Context, hd document.Handle, fragment string) error {
	return h.call(ctx, "render output", renderOutputJS, string(hd), fragment)
}

func (h *Host) call(ctx context.Context, op, js string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.tab.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("browser: %s: %w", op, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: %s: unknown handle %q", op, args[0])
	}
	return nil
}
