package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/middleware"
	"github.com/CorbanSy/PropDash-sub000/task"
)

func newTestTask() *task.Task {
	t := task.Expire(id.NewJobID(), time.Now())
	t.Attempt = 2
	return t
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	wrap := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *task.Task, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(wrap("mw1"), wrap("mw2"))
	err := chain(context.Background(), newTestTask(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestChain_EmptyAndErrors(t *testing.T) {
	want := errors.New("handler error")
	err := middleware.Chain()(context.Background(), newTestTask(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestRecover(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	tk := newTestTask()

	err := mw(context.Background(), tk, func(context.Context) error {
		panic("test panic")
	})
	if err == nil || !strings.Contains(err.Error(), "panic in task expire:") {
		t.Fatalf("err = %v", err)
	}

	if err := mw(context.Background(), tk, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("pass-through err = %v", err)
	}
}

func TestLogging_PassesErrorsThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	for _, want := range []error{nil, dispatch.ErrCandidateExhausted, errors.New("boom")} {
		err := mw(context.Background(), newTestTask(), func(context.Context) error { return want })
		if !errors.Is(err, want) {
			t.Errorf("got %v, want %v", err, want)
		}
	}
}

func TestTimeout(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)
	err := mw(context.Background(), newTestTask(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	err = middleware.Timeout(0)(context.Background(), newTestTask(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("zero timeout set a deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
