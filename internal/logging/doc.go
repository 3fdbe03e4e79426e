// Package logging wraps zap with context-aware methods.
//
// Each call appends correlation fields found in the context: the OTel trace
// and span ids, plus the tenant, conversation, document and request ids set
// with the With* helpers. Output goes to stdout and/or an OpenTelemetry log
// provider through the otelzap bridge. Below-error entries are sampled per
// level; sensitive keys and values are redacted before encoding.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithTenantID(ctx, "acme")
//	logger.Info(ctx, "document ingested", zap.Int("chunks", n))
package logging
