// Package partition describes the record partitions known to the store and
// the sync engine: which payload fields are indexed and which remote
// endpoint receives the partition's mutations.
package partition

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FallbackEndpoint receives mutations of partitions without a configured endpoint.
const FallbackEndpoint = "/api/sync"

// Spec is the configuration of a single partition.
type Spec struct {
	Name     string   `yaml:"name"`
	Endpoint string   `yaml:"endpoint"`
	Indexes  []string `yaml:"indexes,omitempty"`
}

type file struct {
	Partitions []Spec `yaml:"partitions"`
}

// Catalog is an immutable set of partition specs keyed by name.
type Catalog struct {
	specs map[string]Spec
}

// Default returns the built-in condominium partitions.
func Default() *Catalog {
	c, _ := New([]Spec{
		{Name: "boletos", Endpoint: "/api/boletos", Indexes: []string{"condominioId", "unidade", "status"}},
		{Name: "chamados", Endpoint: "/api/chamados", Indexes: []string{"condominioId", "status", "prioridade"}},
		{Name: "moradores", Endpoint: "/api/moradores", Indexes: []string{"condominioId", "unidade"}},
		{Name: "reservas", Endpoint: "/api/reservas", Indexes: []string{"condominioId", "areaId", "data"}},
		{Name: "comunicados", Endpoint: "/api/comunicados", Indexes: []string{"condominioId"}},
		{Name: "ocorrencias", Endpoint: "/api/ocorrencias", Indexes: []string{"condominioId", "status"}},
		{Name: "visitantes", Endpoint: "/api/visitantes", Indexes: []string{"condominioId", "unidade"}},
	})
	return c
}

// New validates specs and builds a catalog.
func New(specs []Spec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("partition without name")
		}
		if _, dup := c.specs[s.Name]; dup {
			return nil, fmt.Errorf("duplicate partition %q", s.Name)
		}
		if s.Endpoint != "" && !strings.HasPrefix(s.Endpoint, "/") {
			return nil, fmt.Errorf("partition %q: endpoint %q must start with /", s.Name, s.Endpoint)
		}
		c.specs[s.Name] = s
	}
	return c, nil
}

// Load reads a YAML catalog file:
//
//	partitions:
//	  - name: boletos
//	    endpoint: /api/boletos
//	    indexes: [condominioId, unidade, status]
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse partition file: %w", err)
	}
	return New(f.Partitions)
}

// Names returns the partition names sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the spec of partition.
func (c *Catalog) Lookup(partition string) (Spec, bool) {
	s, ok := c.specs[partition]
	return s, ok
}

// Endpoint resolves the remote path for partition, falling back to FallbackEndpoint.
func (c *Catalog) Endpoint(partition string) string {
	if s, ok := c.specs[partition]; ok && s.Endpoint != "" {
		return s.Endpoint
	}
	return FallbackEndpoint
}

// Indexes returns the indexed payload fields of partition. Unknown partitions have none.
func (c *Catalog) Indexes(partition string) []string {
	return c.specs[partition].Indexes
}
