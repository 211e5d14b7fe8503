// Package cassandra opens gocql sessions for the cassandra job and segment
// stores.
package cassandra

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

// Client owns a gocql session bound to the configured keyspace.
type Client struct {
	Session *gocql.Session
	cfg     config.CassandraConfig
}

// New connects to the cluster. The keyspace must already exist; Bootstrap
// creates it.
func New(cfg config.CassandraConfig) (*Client, error) {
	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to cassandra: %w", err)
	}
	return &Client{Session: session, cfg: cfg}, nil
}

// Bootstrap creates the keyspace with SimpleStrategy replication if missing.
func Bootstrap(ctx context.Context, cfg config.CassandraConfig, replicationFactor int) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("connecting to cassandra: %w", err)
	}
	defer session.Close()
	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, replicationFactor,
	)
	if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("creating keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.Session.Close()
	return nil
}

// Ping runs a trivial query against the system keyspace.
func (c *Client) Ping(ctx context.Context) error {
	var v string
	return c.Session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Scan(&v)
}

func newCluster(cfg config.CassandraConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	return cluster
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToLower(s) {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "all":
		return gocql.All
	default:
		return gocql.Quorum
	}
}
