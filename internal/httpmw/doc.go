// Package httpmw provides HTTP middleware for the public asset server.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client IP extraction, rate limiting, OTEL
// tracing, metrics, request logger, access log, then the chi router.
//
// Loggers only receive values the server derived itself. Query strings,
// user-agent and other request headers stay out of log fields.
package httpmw
