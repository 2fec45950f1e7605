package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "mucbot/pkg/logx"
)

// slowCommand promotes the request log line from debug to info.
const slowCommand = 750 * time.Millisecond

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := range m {
		h = m[len(m)-1-i](h)
	}
	return h
}

// Timeout bounds each handler; d <= 0 leaves ctx alone.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover converts a handler panic into an error, which the router answers
// with its generic apology.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
				reply, err = "", fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

func LogRequests(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			began := time.Now()
			reply, err := next(ctx, req)
			took := time.Since(began)

			l := requestLogger(log, req).With(
				logx.Strings("args", req.Args),
				logx.Bool("group", req.Invocation.Group),
				logx.Duration("took", took))
			switch {
			case err != nil:
				l.Warn("command failed", logx.Err(err))
			case took >= slowCommand:
				l.Info("command done")
			default:
				l.Debug("command done")
			}
			return reply, err
		}
	}
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
