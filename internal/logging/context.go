package logging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Field names shared by every layer.
const (
	FieldLayer   = "layer"
	FieldUseCase = "usecase"
	FieldAdapter = "adapter"
	FieldAction  = "action"
	FieldProject = "project"
	FieldRunID   = "run_id"
	FieldService = "service"
	FieldImage   = "image"
)

// Logger is a zerolog.Logger that can also log-and-wrap errors.
type Logger struct {
	zerolog.Logger
}

// WrapErr logs err at error level with msg and returns it wrapped as "msg: err".
func (l Logger) WrapErr(err error, msg string) error {
	l.Error().Err(err).Msg(msg)
	return fmt.Errorf("%s: %w", msg, err)
}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromCtx returns the logger carried by ctx, or a disabled logger.
func FromCtx(ctx context.Context) Logger {
	return Logger{Logger: *zerolog.Ctx(ctx)}
}

// CtxWithFields returns a child context whose logger carries fields.
func CtxWithFields(ctx context.Context, fields map[string]any) context.Context {
	logger := zerolog.Ctx(ctx).With().Fields(fields).Logger()
	return logger.WithContext(ctx)
}
