package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey is the Locals key holding the current trace id.
const TraceIDKey = "trace_id"

// TracingMiddleware starts a server span per request, continuing any W3C
// context the caller sent, and exposes the trace id as X-Trace-Id.
func TracingMiddleware(serviceName string) fiber.Handler {
	tracer := telemetry.GetTracer(serviceName)

	return func(c *fiber.Ctx) error {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.UserContext(), &fiberCarrier{c: c})

		ctx, span := tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(c.Method()),
				semconv.HTTPURL(c.OriginalURL()),
				semconv.HTTPScheme(c.Protocol()),
				semconv.HTTPTarget(c.Path()),
				semconv.NetHostName(c.Hostname()),
				semconv.UserAgentOriginal(c.Get("User-Agent")),
				attribute.String("http.client_ip", c.IP()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)

		if span.SpanContext().HasTraceID() {
			traceID := span.SpanContext().TraceID().String()
			c.Locals(TraceIDKey, traceID)
			c.Set("X-Trace-Id", traceID)
		}

		err := c.Next()

		// The matched route is only known once routing has run.
		if route := c.Route().Path; route != "" && route != "/" {
			span.SetName(c.Method() + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
		}
		if uid := GetUserID(c); uid != "" {
			span.SetAttributes(attribute.String("enduser.id", uid))
		}
		if id := c.Params("id"); id != "" {
			span.SetAttributes(attribute.String("audit.record_id", id))
		}
		if actor := c.Params("actorId"); actor != "" {
			span.SetAttributes(attribute.String("audit.actor_id", actor))
		}

		statusCode := c.Response().StatusCode()
		span.SetAttributes(semconv.HTTPStatusCode(statusCode))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		switch {
		case statusCode >= 500:
			span.SetStatus(codes.Error, "Internal server error")
		case statusCode >= 400:
			span.SetStatus(codes.Error, "Client error")
		default:
			span.SetStatus(codes.Ok, "")
		}

		return nil
	}
}

// fiberCarrier adapts fiber.Ctx to propagation.TextMapCarrier
type fiberCarrier struct {
	c *fiber.Ctx
}

func (fc *fiberCarrier) Get(key string) string {
	return fc.c.Get(key)
}

func (fc *fiberCarrier) Set(key, value string) {
	fc.c.Set(key, value)
}

func (fc *fiberCarrier) Keys() []string {
	keys := make([]string, 0)
	fc.c.Request().Header.VisitAll(func(key, _ []byte) {
		keys = append(keys, string(key))
	})
	return keys
}
