package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/condo_sync/internal/retry"
)

// Etcd delivers mutations into an etcd keyspace: POST and PUT store the body
// at <prefix><path>/<id>, DELETE removes that key.
type Etcd struct {
	client *clientv3.Client
	prefix string
}

var (
	_ Transport = (*Etcd)(nil)
	_ Pinger    = (*Etcd)(nil)
)

// NewEtcd connects to the cluster described by dsn.
func NewEtcd(dsn string) (*Etcd, error) {
	config, err := parseEtcdDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse etcd DSN: %w", err)
	}

	client, err := clientv3.New(*config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logrus.WithField("endpoints", config.Endpoints).Info("Connected to etcd successfully")

	return &Etcd{client: client, prefix: GetPrefix(dsn)}, nil
}

// NewEtcdWithRetry connects and checks the connection, retrying with backoff
func NewEtcdWithRetry(ctx context.Context, dsn string) (*Etcd, error) {
	var e *Etcd
	err := retry.WithOperation(ctx, retry.EtcdDefaults(), "etcd connect", func(ctx context.Context) error {
		var attemptErr error
		e, attemptErr = NewEtcd(dsn)
		if attemptErr != nil {
			return attemptErr
		}

		if pingErr := e.Ping(ctx); pingErr != nil {
			_ = e.Close()
			return pingErr
		}

		return nil
	})

	if err != nil {
		logrus.WithError(err).Error("Failed to establish etcd connection after all retries")
		return nil, err
	}

	return e, nil
}

// Close closes the etcd client connection
func (e *Etcd) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Key returns the etcd key a request is written to.
func (e *Etcd) Key(req Request) string {
	id := req.RecordID
	if id == "" {
		id = req.EntryID
	}
	return strings.TrimSuffix(e.prefix, "/") + "/" + strings.Trim(req.Path, "/") + "/" + id
}

// Send implements Transport.
func (e *Etcd) Send(ctx context.Context, req Request) error {
	if !validMethod(req.Method) {
		return fmt.Errorf("unsupported method %q", req.Method)
	}
	if req.RecordID == "" && req.EntryID == "" {
		return fmt.Errorf("request has no key")
	}
	key := e.Key(req)

	if req.Method == http.MethodDelete {
		resp, err := e.client.Delete(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
		logrus.WithFields(logrus.Fields{
			"key":      key,
			"revision": resp.Header.Revision,
			"deleted":  resp.Deleted,
		}).Debug("Deleted key from etcd")
		return nil
	}

	resp, err := e.client.Put(ctx, key, string(req.Body))
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	logrus.WithFields(logrus.Fields{
		"key":      key,
		"revision": resp.Header.Revision,
	}).Debug("Put key to etcd")
	return nil
}

// Get returns the value stored at key, or nil if the key does not exist.
func (e *Etcd) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// Ping implements Pinger.
func (e *Etcd) Ping(ctx context.Context) error {
	_, err := e.client.Get(ctx, "healthcheck")
	return err
}

// parseEtcdDSN parses etcd DSN format: etcd://host1:port1[,host2:port2]/[prefix]?param=value
func parseEtcdDSN(dsn string) (*clientv3.Config, error) {
	if dsn == "" {
		return &clientv3.Config{
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
		}, nil
	}

	if !strings.HasPrefix(dsn, "etcd://") {
		return nil, fmt.Errorf("etcd DSN must start with etcd://")
	}

	u, err := url.Parse("dummy://" + strings.TrimPrefix(dsn, "etcd://"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	endpoints := strings.Split(u.Host, ",")
	for i, endpoint := range endpoints {
		if !strings.Contains(endpoint, ":") {
			endpoints[i] = endpoint + ":2379"
		}
	}

	config := &clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	}

	params := u.Query()
	if timeout := params.Get("dial_timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid dial_timeout %q: %w", timeout, err)
		}
		config.DialTimeout = d
	}
	if username := params.Get("username"); username != "" {
		config.Username = username
	}
	if password := params.Get("password"); password != "" {
		config.Password = password
	}
	switch params.Get("tls") {
	case "", "disabled":
	case "enabled":
		config.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	case "insecure":
		config.TLS = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	default:
		return nil, fmt.Errorf("invalid tls mode %q", params.Get("tls"))
	}

	return config, nil
}

// GetPrefix extracts the key prefix from the etcd DSN path
func GetPrefix(dsn string) string {
	if dsn == "" || !strings.HasPrefix(dsn, "etcd://") {
		return "/"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
