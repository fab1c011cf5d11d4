package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{"boletos", "chamados", "comunicados", "moradores", "ocorrencias", "reservas", "visitantes"}, c.Names())
	assert.Equal(t, "/api/boletos", c.Endpoint("boletos"))
	assert.Equal(t, []string{"condominioId", "unidade", "status"}, c.Indexes("boletos"))
}

func TestEndpointFallback(t *testing.T) {
	c := Default()
	assert.Equal(t, FallbackEndpoint, c.Endpoint("assembleias"))
	assert.Nil(t, c.Indexes("assembleias"))

	c, err := New([]Spec{{Name: "pets"}})
	require.NoError(t, err)
	assert.Equal(t, FallbackEndpoint, c.Endpoint("pets"), "empty endpoint falls back")
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
	}{
		{"empty name", []Spec{{Name: " "}}},
		{"duplicate", []Spec{{Name: "boletos"}, {Name: "boletos"}}},
		{"relative endpoint", []Spec{{Name: "boletos", Endpoint: "api/boletos"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partitions.yaml")
	content := `partitions:
  - name: boletos
    endpoint: /v2/boletos
    indexes: [condominioId, vencimento]
  - name: pets
    endpoint: /v2/pets
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"boletos", "pets"}, c.Names())
	assert.Equal(t, "/v2/boletos", c.Endpoint("boletos"))
	assert.Equal(t, []string{"condominioId", "vencimento"}, c.Indexes("boletos"))

	s, ok := c.Lookup("pets")
	require.True(t, ok)
	assert.Empty(t, s.Indexes)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("partitions: [name: ["))
	assert.Error(t, err)
}
