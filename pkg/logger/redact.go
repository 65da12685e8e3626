package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// sensitiveKeys lists the field/header names that must never appear in
// cleartext in a log line (spec §9: "header redaction in logs").
var sensitiveKeys = []string{
	"authorization",
	"x-cashu",
	"bearer",
	"token",
	"secret",
	"refund_address",
	"refund-address",
	"refund-lnurl",
	"api_key",
	"apikey",
	"password",
}

const redactedPlaceholder = "[REDACTED]"

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// redactingCore wraps a zapcore.Core and masks the value of any field whose
// key matches sensitiveKeys before it reaches the underlying encoder.
type redactingCore struct {
	zapcore.Core
}

func redact(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(maskFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, maskFields(fields))
}

func maskFields(fields []zapcore.Field) []zapcore.Field {
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if isSensitiveKey(f.Key) {
			masked[i] = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redactedPlaceholder}
			continue
		}
		masked[i] = f
	}
	return masked
}
