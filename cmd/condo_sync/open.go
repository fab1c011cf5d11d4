package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
	"github.com/cybertec-postgresql/condo_sync/internal/kv/postgres"
	"github.com/cybertec-postgresql/condo_sync/internal/kv/sqlite"
	"github.com/cybertec-postgresql/condo_sync/internal/transport"
)

// RemoteTransport is a transport whose reachability can be probed
type RemoteTransport interface {
	transport.Transport
	transport.Pinger
	Close() error
}

// OpenEngine selects the storage engine by DSN scheme
func OpenEngine(ctx context.Context, dsn string) (kv.Engine, error) {
	switch {
	case dsn == "memory://":
		return kv.NewMemory(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite DSN needs a file path")
		}
		e, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return e, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		e, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unsupported store DSN %q", dsn)
}

type httpTransport struct {
	*transport.HTTP
}

func (httpTransport) Close() error { return nil }

// OpenTransport builds the etcd transport if an etcd DSN is given, the HTTP one otherwise
func OpenTransport(ctx context.Context, c *Config) (RemoteTransport, error) {
	if c.EtcdDSN != "" {
		e, err := transport.NewEtcdWithRetry(ctx, c.EtcdDSN)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	if c.RemoteURL == "" {
		return nil, fmt.Errorf("either --remote-url or --etcd-dsn is required")
	}
	var opts []transport.HTTPOption
	if c.AuthToken != "" {
		opts = append(opts, transport.WithHeader("Authorization", "Bearer "+c.AuthToken))
	}
	h, err := transport.NewHTTP(c.RemoteURL, opts...)
	if err != nil {
		return nil, err
	}
	return httpTransport{h}, nil
}
