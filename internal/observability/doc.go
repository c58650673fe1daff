// Package observability builds the portal's structured logger.
//
// Components receive a *zap.Logger by constructor injection. Request-scoped
// lines carry request_id and session_id fields added by the HTTP middleware.
package observability
