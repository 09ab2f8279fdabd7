package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postroom/internal/common"
	"postroom/internal/domain/notification"
	"postroom/internal/infra/template"
)

func TestEngine_Merge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      notification.TemplateType
		content  string
		data     map[string]string
		expected string
	}{
		{
			name:     "text placeholder",
			typ:      notification.TemplateTypeText,
			content:  "Hello {{name}}",
			data:     map[string]string{"name": "Alice"},
			expected: "Hello Alice",
		},
		{
			name:     "spaces inside delimiters",
			typ:      notification.TemplateTypeText,
			content:  "Hi {{ first }} {{ last }}!",
			data:     map[string]string{"first": "Ada", "last": "Lovelace"},
			expected: "Hi Ada Lovelace!",
		},
		{
			name:     "empty type defaults to text",
			typ:      "",
			content:  "Code {{code}}",
			data:     map[string]string{"code": "<42>"},
			expected: "Code <42>",
		},
		{
			name:     "type is case insensitive",
			typ:      "text",
			content:  "{{a}}",
			data:     map[string]string{"a": "x"},
			expected: "x",
		},
		{
			name:     "html escapes values",
			typ:      notification.TemplateTypeHTML,
			content:  "<p>{{name}}</p>",
			data:     map[string]string{"name": "<b>Bob & co</b>"},
			expected: "<p>&lt;b&gt;Bob &amp; co&lt;/b&gt;</p>",
		},
		{
			name:     "missing key renders empty by default",
			typ:      notification.TemplateTypeText,
			content:  "Hello {{name}}!",
			data:     nil,
			expected: "Hello !",
		},
		{
			name:     "no placeholders",
			typ:      notification.TemplateTypeText,
			content:  "static body",
			expected: "static body",
		},
		{
			name:     "go template",
			typ:      notification.TemplateTypeGo,
			content:  "Hello {{.name}}{{if .vip}}, VIP{{end}}",
			data:     map[string]string{"name": "Alice", "vip": "yes"},
			expected: "Hello Alice, VIP",
		},
		{
			name:     "go template missing key is empty",
			typ:      notification.TemplateTypeGo,
			content:  "Hello {{.name}}",
			expected: "Hello ",
		},
	}

	engine := template.NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := engine.Merge(tt.typ, tt.content, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEngine_Merge_MissingKeyLiteral(t *testing.T) {
	t.Parallel()

	engine := template.NewEngine(template.WithMissingKeyPolicy(template.MissingKeyLiteral))

	got, err := engine.Merge(notification.TemplateTypeText, "Hello {{ name }}, code {{code}}", map[string]string{"code": "7"})
	require.NoError(t, err)
	assert.Equal(t, "Hello {{ name }}, code 7", got)
}

func TestEngine_Merge_SyntaxErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     notification.TemplateType
		content string
	}{
		{"unterminated", notification.TemplateTypeText, "Hello {{name"},
		{"empty placeholder", notification.TemplateTypeText, "Hello {{}}"},
		{"invalid name", notification.TemplateTypeHTML, "Hello {{na me}}"},
		{"nested", notification.TemplateTypeText, "Hello {{ {{name}}"},
		{"go parse error", notification.TemplateTypeGo, "Hello {{.name"},
		{"unknown type", "XSLT", "<xsl:stylesheet/>"},
	}

	engine := template.NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := engine.Merge(tt.typ, tt.content, map[string]string{"name": "x"})
			require.Error(t, err)

			var syntaxErr *common.TemplateSyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
		})
	}
}

func TestEngine_Merge_Deterministic(t *testing.T) {
	t.Parallel()

	engine := template.NewEngine()
	data := map[string]string{"a": "1", "b": "2", "c": "3"}

	first, err := engine.Merge(notification.TemplateTypeText, "{{a}}-{{b}}-{{c}}", data)
	require.NoError(t, err)
	for range 20 {
		again, err := engine.Merge(notification.TemplateTypeText, "{{a}}-{{b}}-{{c}}", data)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	got := template.StripHTML("<html><body><h1>Hi</h1>\n  <p>Tom &amp; Jerry &lt;3</p></body></html>")
	assert.Equal(t, "Hi Tom & Jerry <3", got)
}
