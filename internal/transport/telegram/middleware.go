package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "habitbot/pkg/logx"
)

// HandlerFunc handles one command and returns the reply text.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func withRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					reply, err = "", fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func withRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.String("chat_id", req.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				req.Log.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				req.Log.Info("command ok", fields...)
			default:
				req.Log.Debug("command ok", fields...)
			}
			return reply, err
		}
	}
}

// withOwnerOnly rejects senders isOwner does not accept.
func withOwnerOnly(isOwner func(int64) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if isOwner == nil || !isOwner(req.FromID) {
				return "", errForbidden
			}
			return next(ctx, req)
		}
	}
}
