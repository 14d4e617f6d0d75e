package common

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers give every package the same log-field vocabulary, mirroring
// the teacher's common.AnyField/DurationField/ErrorField helpers.
func AnyField(key string, val interface{}) zap.Field   { return zap.Any(key, val) }
func DurationField(d time.Duration) zap.Field           { return zap.Duration("duration", d) }
func ErrorField(err error) zap.Field                    { return zap.NamedError("error", err) }
func TabletField(id ID) zap.Field                       { return zap.Stringer("tablet", id) }
