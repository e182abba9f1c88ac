/*
Package server provides the HTTP server and middleware for the twin gateway.

# Middleware Components

## Request ID (requestid.go)

RequestIDMiddleware reuses a well-formed inbound X-Request-ID or generates a
UUID, and stores it with domain.WithRequestID. The orchestrator reads it back
for its turn logs, span attributes and audit records. The id is echoed in the
X-Request-ID response header.

## Logging (logging.go)

LoggingMiddleware writes one structured line per request using slog, with
request_id, status, bytes and duration plus any fields added via
AddLogField/AddError. It wraps the writer with chi's
middleware.WrapResponseWriter, so Flush and Hijack pass through and WebSocket
upgrades log as 101.

## Deadline (server.go)

Routes registered through Server.API run with a context deadline of
RequestTimeout. Handlers and outbound clients observe context.Done(). The
gateway sizes the timeout to cover the slowest turn: one chat service read
plus two executor calls.

# Middleware Chain Order

 1. RequestIDMiddleware
 2. LoggingMiddleware
 3. Recoverer (catches panics)
 4. OTel instrumentation (OpenTelemetry)
 5. Deadline (API routes only)

# Responses

WriteJSON and WriteError write JSON bodies. Errors use the shape
{success:false, status, message}, with the status taken from
domain.Error.HTTPStatusCode.

# Example Usage

	srv := New(port, logger, WithRequestTimeout(cfg.TurnTimeout()))
	srv.API(func(r chi.Router) {
		r.Post("/api/chat", handler.HandleChat)
	})
	srv.Router.Get("/ws", hub.ServeHTTP)
	srv.Start()
*/
package server
