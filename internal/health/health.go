// Package health provides readiness checks for the service's backing
// stores.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Checker is a dependency that can report whether it is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DBChecker implements health checking for SQL databases.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if d.db == nil {
		return fmt.Errorf("database not configured")
	}
	return d.db.PingContext(ctx)
}

// RedisChecker implements health checking for Redis.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis not configured")
	}
	return r.client.Ping(ctx).Err()
}

// Report holds the outcome of each named check.
type Report map[string]error

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	for _, err := range r {
		if err != nil {
			return false
		}
	}
	return true
}

// Names returns the check names in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAll runs the checks concurrently. Nil checkers are skipped.
func CheckAll(ctx context.Context, checks map[string]Checker) Report {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = make(Report, len(checks))
	)
	for name, c := range checks {
		if c == nil {
			continue
		}
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			err := c.HealthCheck(ctx)
			mu.Lock()
			report[name] = err
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()
	return report
}
