/*
Package tracing correlates viewer API requests in the log.

Every request gets a span; the trace ID is taken from the X-Trace-ID header
when the viewer sends one and is returned in the response headers. Finished
spans are handed to a buffered collector that logs them, so tracing never
blocks a request.

	tracer := tracing.New("peb", logger)
	router.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
