// Package logging provides structured logging for the federated daemon.
//
// Logger wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Output to stdout or any io.Writer
//   - Context field injection (trace_id, span_id, operation.id, request.id, store)
//   - Field-name and pattern based secret redaction
//   - Level-aware sampling (errors are never sampled)
//
// Create a logger from config:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithOperationID(ctx, opID)
//	logger.Info(ctx, "scan finished", zap.Int("violations", n))
//
// Tests use NewTestLogger and its assertion helpers:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "probe failed", zap.String("store", "main"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "probe failed")
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect their parent.
package logging
