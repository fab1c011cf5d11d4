package sync

import (
	"github.com/cybertec-postgresql/condo_sync/internal/partition"
)

// Route is where and how an entry is delivered.
type Route struct {
	Method string
	Path   string
}

// Resolve maps an entry to its remote endpoint. Partitions missing from the
// catalog go to partition.FallbackEndpoint.
func Resolve(catalog *partition.Catalog, entry Entry) Route {
	return Route{Method: entry.Operation.Method(), Path: catalog.Endpoint(entry.Partition)}
}
