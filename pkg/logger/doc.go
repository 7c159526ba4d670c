// Package logger builds *slog.Logger instances through functional options and
// injects request-scoped values (request id, caller) from context.Context on
// every record.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "complykit"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
//
// Attribute helpers in attr.go keep key names consistent across packages:
//
//	log.ErrorContext(ctx, "refund failed", logger.SubscriptionID(id), logger.Error(err))
//
// Helpers return an empty slog.Attr for nil or empty input, which slog drops.
package logger
