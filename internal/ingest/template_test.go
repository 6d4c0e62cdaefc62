package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `templates:
  - id: order-shipped-email
    content: "Hi {{name}}, your order {{order_id}} is on its way."
    channel: email
    category: order
    tone: friendly
    language: en
    tags: [shipping, order]
  - id: password-reset-sms
    content: "Your reset code is {{code}}."
    channel: sms
    category: security
`

func TestParse(t *testing.T) {
	templates, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, templates, 2)

	first := templates[0]
	assert.Equal(t, "order-shipped-email", first.ID)
	assert.Equal(t, "email", first.Channel)
	assert.Equal(t, "friendly", first.Tone)
	assert.Equal(t, []string{"shipping", "order"}, first.Tags)
	assert.Contains(t, first.Content, "{{order_id}}")

	assert.Equal(t, "sms", templates[1].Channel)
	assert.Empty(t, templates[1].Tags)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "templates:\n  - content: hi\n", "id is required"},
		{"missing content", "templates:\n  - id: a\n", `"a": content is required`},
		{"duplicate id", "templates:\n  - id: a\n    content: x\n  - id: a\n    content: y\n", "duplicate id"},
		{"malformed", "templates: [", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	templates, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, templates, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIsTemplateFile(t *testing.T) {
	assert.True(t, IsTemplateFile("a.yaml"))
	assert.True(t, IsTemplateFile("dir/b.YML"))
	assert.False(t, IsTemplateFile("c.json"))
	assert.False(t, IsTemplateFile("d.yaml.swp"))
}
