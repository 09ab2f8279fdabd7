package template

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"
	texttemplate "text/template"

	"postroom/internal/common"
	"postroom/internal/domain/notification"
)

var _ notification.TemplateMerger = (*Engine)(nil)

// MissingKeyPolicy controls how a placeholder with no matching data key renders.
type MissingKeyPolicy int

const (
	// MissingKeyEmpty renders an unresolved placeholder as the empty string.
	MissingKeyEmpty MissingKeyPolicy = iota
	// MissingKeyLiteral leaves the placeholder text, braces included, in the output.
	MissingKeyLiteral
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

var placeholderName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Engine merges template content with a string-keyed data payload.
// It is stateless apart from its policy and safe for concurrent use.
type Engine struct {
	missing MissingKeyPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithMissingKeyPolicy sets the policy for placeholders with no data. The
// policy applies to the Text and HTML types; GoTemplate content always
// renders missing keys as "".
func WithMissingKeyPolicy(p MissingKeyPolicy) Option {
	return func(e *Engine) {
		e.missing = p
	}
}

// NewEngine creates a new merge engine. The default policy is MissingKeyEmpty.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{missing: MissingKeyEmpty}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge renders content according to templateType. An empty type is treated as Text.
func (e *Engine) Merge(templateType notification.TemplateType, content string, data map[string]string) (string, error) {
	switch {
	case templateType == "" || strings.EqualFold(string(templateType), string(notification.TemplateTypeText)):
		return e.substitute(notification.TemplateTypeText, content, data, func(s string) string { return s })
	case strings.EqualFold(string(templateType), string(notification.TemplateTypeHTML)):
		return e.substitute(notification.TemplateTypeHTML, content, data, template.HTMLEscapeString)
	case strings.EqualFold(string(templateType), string(notification.TemplateTypeGo)):
		return renderGo(content, data)
	default:
		return "", common.NewTemplateSyntaxError(string(templateType), "unsupported template type", nil)
	}
}

// substitute replaces {{ name }} placeholders with escape(data[name]).
func (e *Engine) substitute(tt notification.TemplateType, content string, data map[string]string, escape func(string) string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	rest := content
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])

		inner := rest[start+len(openDelim):]
		end := strings.Index(inner, closeDelim)
		if end < 0 {
			return "", common.NewTemplateSyntaxError(string(tt),
				fmt.Sprintf("unterminated placeholder at offset %d", len(content)-len(rest)+start), nil)
		}

		raw := inner[:end]
		if strings.Contains(raw, openDelim) {
			return "", common.NewTemplateSyntaxError(string(tt), "nested placeholder", nil)
		}
		name := strings.TrimSpace(raw)
		if !placeholderName.MatchString(name) {
			return "", common.NewTemplateSyntaxError(string(tt), fmt.Sprintf("invalid placeholder name %q", name), nil)
		}

		if v, ok := data[name]; ok {
			out.WriteString(escape(v))
		} else if e.missing == MissingKeyLiteral {
			out.WriteString(openDelim + raw + closeDelim)
		}

		rest = inner[end+len(closeDelim):]
	}
}

func renderGo(content string, data map[string]string) (string, error) {
	tmpl, err := texttemplate.New("body").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", common.NewTemplateSyntaxError(string(notification.TemplateTypeGo), "parse failed", err)
	}

	if data == nil {
		data = map[string]string{}
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", common.NewTemplateSyntaxError(string(notification.TemplateTypeGo), "execute failed", err)
	}
	return out.String(), nil
}

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// StripHTML removes HTML tags and collapses whitespace to produce a plain-text version.
func StripHTML(s string) string {
	text := tagRe.ReplaceAllString(s, "")

	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")

	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
