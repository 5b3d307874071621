package genserver

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// requestLoggerMsg and requestRecoverMsg name the `msg` field on the
// Scheduler API's request and panic log lines — kept distinct from a
// generic library default so a log search for "genserver:" finds every
// request, panic and job-accepted line. The engine's own span lines, logged
// through the same logger by run.Generate, carry no such prefix.
const (
	requestLoggerMsg  = "genserver: request served"
	requestRecoverMsg = "genserver: recovered from panic"

	// requestIDHeader is the header a reverse proxy in front of the
	// Scheduler API is expected to set (§6's HTTP front door has no
	// request-ID middleware of its own to generate one).
	requestIDHeader = echo.HeaderXRequestID
)

// jobIDField pulls the ":id" path parameter a request targets, if any, so
// every /jobs/:id and /jobs/:id/result log line carries the job it is
// about — the one piece of this module's own domain state worth promoting
// onto every request log line, since a job's progress/failure is almost
// always what an operator is correlating log lines against.
func jobIDField(c echo.Context) []zapcore.Field {
	if id := c.Param("id"); id != "" {
		return []zapcore.Field{zap.String("job_id", id)}
	}
	return nil
}

// requestLogger is an echo.MiddlewareFunc logging one structured line per
// request: method, path, status, latency, and (when the route names one) the
// job id, matching the request-scoped fields the teacher's own echo
// middleware logs for its routes.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	log = log.WithOptions(zap.WithCaller(false))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			herr := next(c)
			if herr != nil {
				c.Error(herr)
			}

			resp := c.Response()
			req := c.Request()
			latency := time.Since(start)

			fields := make([]zapcore.Field, 0, 10)
			fields = append(fields,
				zap.String("method", req.Method),
				// RequestURI, not URL.Path: see https://github.com/golang/go/issues/2782
				zap.String("path", req.RequestURI),
				zap.Int("status", resp.Status),
				zap.String("status_text", http.StatusText(resp.Status)),
				zap.Duration("latency", latency),
				zap.String("client_ip", c.RealIP()),
			)
			fields = append(fields, jobIDField(c)...)
			if requestID := req.Header.Get(requestIDHeader); requestID != "" {
				fields = append(fields, zap.String("request_id", requestID))
			}
			if herr != nil {
				fields = append(fields, zap.Error(herr))
			}

			switch {
			case resp.Status >= 500:
				log.Error(requestLoggerMsg, fields...)
			case resp.Status >= 400:
				log.Warn(requestLoggerMsg, fields...)
			default:
				log.Info(requestLoggerMsg, fields...)
			}

			// Already handled via c.Error above.
			return nil
		}
	}
}

// requestRecover is an echo.MiddlewareFunc recovering a panicking handler,
// logging it (with the job id, when the route names one) rather than
// letting echo's own default recover middleware print an unstructured
// stack trace to stderr.
func requestRecover(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("genserver: panic: %v", r)
				}
				c.Error(err)

				req := c.Request()
				stack := make([]byte, 4<<10)
				n := runtime.Stack(stack, false)

				fields := []zapcore.Field{
					zap.Error(err),
					zap.String("method", req.Method),
					zap.String("path", req.RequestURI),
					zap.ByteString("stacktrace", stack[:n]),
				}
				fields = append(fields, jobIDField(c)...)
				log.Error(requestRecoverMsg, fields...)
			}()
			return next(c)
		}
	}
}
