/*
Client Aggregator

Redis is the thin, supplemental convenience wrapper described in
SPEC_FULL.md §4.6: it parses a redis:// URL, owns the list of connections
opened through it, and tears all of them down together. It does not
pool, retry, pipeline, or load-balance — those remain explicit
Non-goals; a caller wanting more than "dial me a Connection" builds it on
top of the Connection returned by GetConnection.
*/
package resp3

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Redis owns a host/port pair and the connections opened against it
// through GetConnection, so Disconnect can tear all of them down
// together.
type Redis struct {
	host string
	port string

	mu          sync.Mutex
	connections []*Connection
}

// NewFromURL parses url, which must be of the form "redis://host:port".
// Any other scheme, a missing host, or a missing or non-numeric port is
// rejected; an auth segment, path, or query is not rejected but is
// ignored. This error is intentionally a
// plain error rather than a member of the RedisError taxonomy — a
// malformed URL is a caller bug, not a runtime protocol fault.
func NewFromURL(rawURL string) (*Redis, error) {
	host, port, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Redis{host: host, port: port}, nil
}

func parseRedisURL(rawURL string) (host, port string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrap(err, "resp3: malformed redis URL")
	}

	if parsed.Scheme != "redis" {
		return "", "", errors.Errorf("resp3: unsupported URL scheme %q, only redis:// is supported", parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return "", "", errors.New("resp3: redis URL is missing a host")
	}

	if parsed.Port() == "" {
		return "", "", errors.New("resp3: redis URL is missing a port")
	}

	if _, err := strconv.Atoi(parsed.Port()); err != nil {
		return "", "", errors.Errorf("resp3: redis URL has an invalid port %q", parsed.Port())
	}

	return parsed.Hostname(), parsed.Port(), nil
}

// GetConnection dials a new Connection against this client's host:port,
// runs it through Connect (including the mandatory HELLO handshake), and
// tracks it so a later Disconnect tears it down along with every other
// connection this Redis has opened.
func (r *Redis) GetConnection(ctx context.Context, opts ...ConnectionOption) (*Connection, error) {
	conn := NewConnection(r.host, r.port, opts...)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.connections = append(r.connections, conn)
	r.mu.Unlock()

	return conn, nil
}

// Disconnect tears down every connection this client has opened,
// concurrently. A failure closing one connection does not prevent the
// others from being torn down; all failures are joined and surfaced
// together via a single *multierror.Error, so no individual failure is
// silently swallowed.
func (r *Redis) Disconnect() error {
	r.mu.Lock()
	conns := r.connections
	r.connections = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(conns))

	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *Connection) {
			defer wg.Done()
			if conn.IsAlive() {
				errs[i] = conn.Disconnect()
			}
		}(i, conn)
	}
	wg.Wait()

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
