package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"modlog/internal/metrics"
	logx "modlog/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.String("panic", fmt.Sprint(r)),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs each command and counts it. Failures log at warn.
func MWRequestLog(log logx.Logger, m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("guild", req.Msg.GuildID),
				logx.String("channel", req.Msg.ChannelID),
				logx.String("user", req.Msg.Author.ID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			var ue *UserError
			switch {
			case err == nil:
				m.Command(req.Command, "ok")
				logger.Debug("command ok", fields...)
			case errors.As(err, &ue):
				m.Command(req.Command, "rejected")
				logger.Info("command rejected", append(fields, logx.Err(err))...)
			default:
				m.Command(req.Command, "error")
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			}
			return err
		}
	}
}

// MWRequire rejects invokers lacking p.
func MWRequire(p Permission) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if p == PermNone {
				return next(ctx, req)
			}
			if !req.Platform.HasPermission(req.Msg.GuildID, req.Msg.ChannelID, req.Msg.Author.ID, p) {
				return userErr("You need the **" + p.String() + "** permission to use this command.")
			}
			return next(ctx, req)
		}
	}
}
