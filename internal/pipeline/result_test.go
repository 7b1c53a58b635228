package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFetch_Success(t *testing.T) {
	res := Fetch(context.Background(), "posts", time.Second, func(ctx context.Context) ([]int, error) {
		return []int{1, 2, 3}, nil
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Values) != 3 || res.Outcome() != OutcomeOK {
		t.Errorf("got %v / %s", res.Values, res.Outcome())
	}
}

func TestFetch_NilValuesBecomeEmpty(t *testing.T) {
	res := Fetch(context.Background(), "posts", 0, func(ctx context.Context) ([]string, error) {
		return nil, nil
	})
	if res.Values == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestFetch_ErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	res := Fetch(context.Background(), "places", time.Second, func(ctx context.Context) ([]int, error) {
		return nil, boom
	})

	var sfe *SourceFetchError
	if !errors.As(res.Err, &sfe) {
		t.Fatalf("expected SourceFetchError, got %T", res.Err)
	}
	if sfe.Source != "places" || !errors.Is(res.Err, boom) {
		t.Errorf("unexpected error: %v", res.Err)
	}
	if res.Outcome() != OutcomeError {
		t.Errorf("outcome = %s, want error", res.Outcome())
	}
}

func TestFetch_Timeout(t *testing.T) {
	res := Fetch(context.Background(), "people", 10*time.Millisecond, func(ctx context.Context) ([]int, error) {
		<-ctx.Done()
		return []int{1}, nil
	})
	if res.Outcome() != OutcomeTimeout {
		t.Errorf("outcome = %s, want timeout (err=%v)", res.Outcome(), res.Err)
	}
	if len(res.Values) != 0 {
		t.Errorf("late values should be discarded, got %v", res.Values)
	}
}

func TestFetch_RecoversPanic(t *testing.T) {
	res := Fetch(context.Background(), "posts", time.Second, func(ctx context.Context) ([]int, error) {
		panic("nil map")
	})
	if res.Err == nil {
		t.Fatal("expected error from panic")
	}
}

func TestResult_OrEmpty(t *testing.T) {
	m := NewMetrics()

	ok := Result[int]{Source: "posts", Values: []int{1}}
	if got := ok.OrEmpty(context.Background(), nil, m, "feed"); len(got) != 1 {
		t.Errorf("ok result = %v", got)
	}

	failed := Result[int]{Source: "places", Values: []int{9}, Err: errors.New("down")}
	got := failed.OrEmpty(context.Background(), nil, m, "feed")
	if got == nil || len(got) != 0 {
		t.Errorf("failed result should yield empty slice, got %v", got)
	}

	if v := testutil.ToFloat64(m.sourceFetchTotal.WithLabelValues("feed", "places", OutcomeError)); v != 1 {
		t.Errorf("error counter = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.sourceFetchTotal.WithLabelValues("feed", "posts", OutcomeOK)); v != 1 {
		t.Errorf("ok counter = %v, want 1", v)
	}
}

func TestSkip(t *testing.T) {
	r := Skip[string]("users")
	if r.Outcome() != OutcomeSkipped || r.Err != nil || r.Values == nil {
		t.Errorf("unexpected skipped result: %+v", r)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("limit", "must be between 1 and 50")
	if err.Error() != "limit: must be between 1 and 50" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !IsValidation(err) {
		t.Error("IsValidation should match")
	}
	if IsValidation(errors.New("other")) {
		t.Error("IsValidation should not match plain errors")
	}
}
