package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCheckAll(t *testing.T) {
	report := CheckAll(context.Background(), map[string]Checker{
		"database": CheckerFunc(func(context.Context) error { return nil }),
		"redis":    CheckerFunc(func(context.Context) error { return errors.New("down") }),
		"skipped":  nil,
	})

	if report.Healthy() {
		t.Error("report with a failing check should not be healthy")
	}
	if names := report.Names(); len(names) != 2 || names[0] != "database" || names[1] != "redis" {
		t.Errorf("names = %v", names)
	}
	if report["database"] != nil {
		t.Errorf("database error = %v", report["database"])
	}
}

func TestCheckAll_Empty(t *testing.T) {
	if !CheckAll(context.Background(), nil).Healthy() {
		t.Error("no checks should be healthy")
	}
}

func TestUnconfiguredCheckers(t *testing.T) {
	ctx := context.Background()
	if err := NewDBChecker(nil).HealthCheck(ctx); err == nil {
		t.Error("expected error for nil database")
	}
	if err := NewRedisChecker(nil).HealthCheck(ctx); err == nil {
		t.Error("expected error for nil redis client")
	}
}

func TestRedisChecker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := NewRedisChecker(client).HealthCheck(ctx); err == nil {
		t.Error("expected error for unreachable redis")
	}
}
