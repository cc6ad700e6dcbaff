package authorize

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/openshift/tokengate/pkg/authorize")

// HandlerConfig wires the extraction and authorization strategies of one
// protected resource.
type HandlerConfig struct {
	// Resource names the protected resource in logs and metrics.
	Resource   string
	Extractor  Extractor
	Authorizer Authorizer
	// PreflightMethods bypass authorization entirely. Defaults to OPTIONS.
	PreflightMethods []string
}

// NewAuthorizeHandler authorizes every request before handing it to next.
// Rejected requests get a bare 401; the cause is only logged.
func NewAuthorizeHandler(logger log.Logger, metrics *Metrics, cfg HandlerConfig, next http.Handler) http.Handler {
	logger = log.With(logger, "component", "authorize", "resource", cfg.Resource)

	preflight := map[string]struct{}{}
	methods := cfg.PreflightMethods
	if len(methods) == 0 {
		methods = []string{http.MethodOptions}
	}
	for _, m := range methods {
		preflight[strings.ToUpper(m)] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if _, ok := preflight[req.Method]; ok {
			metrics.bypassed(cfg.Resource)
			next.ServeHTTP(w, req)
			return
		}

		ctx, span := tracer.Start(req.Context(), "authorize")
		defer span.End()
		span.SetAttributes(attribute.String("tokengate.resource", cfg.Resource))

		logger := log.With(logger, "request", requestID(req))

		identity, err := authorize(ctx, cfg, req)
		if err != nil {
			kind := KindOf(err)
			span.SetAttributes(
				attribute.String("tokengate.result", "reject"),
				attribute.String("tokengate.kind", string(kind)),
			)
			span.SetStatus(codes.Error, string(kind))
			metrics.rejected(cfg.Resource, kind)
			logRejection(logger, err)

			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		span.SetAttributes(attribute.String("tokengate.result", "accept"))
		metrics.accepted(cfg.Resource)
		level.Info(logger).Log("msg", "granted access", "subject", identity.UserID(), "issuer", identity.Issuer())

		next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), identity)))
	})
}

// Middleware is NewAuthorizeHandler in the func(http.Handler) http.Handler form used by routers.
func Middleware(logger log.Logger, metrics *Metrics, cfg HandlerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewAuthorizeHandler(logger, metrics, cfg, next)
	}
}

func authorize(ctx context.Context, cfg HandlerConfig, req *http.Request) (*Identity, error) {
	credential, err := cfg.Extractor.Extract(req)
	if err != nil {
		return nil, err
	}
	identity, err := cfg.Authorizer.Authorize(ctx, credential)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, errors.New("authorizer returned no identity")
	}
	return identity, nil
}

func logRejection(logger log.Logger, err error) {
	kind := KindOf(err)
	if kind == "" {
		level.Error(logger).Log("msg", "not authorized", "kind", "unknown", "err", err)
		return
	}

	keyvals := []interface{}{"msg", "not authorized", "kind", kind, "class", kind.Class()}
	if issuer := IssuerOf(err); issuer != "" {
		keyvals = append(keyvals, "issuer", issuer)
	}
	keyvals = append(keyvals, "err", err)

	if kind.OperatorFault() {
		keyvals = append(keyvals, "alarm", string(kind))
		level.Error(logger).Log(keyvals...)
		return
	}
	level.Warn(logger).Log(keyvals...)
}

func requestID(req *http.Request) string {
	if id := middleware.GetReqID(req.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
