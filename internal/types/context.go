package types

import "context"

type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxJobName   ContextKey = "ctx_job_name"
)

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxRequestID).(string); ok {
		return id
	}
	return ""
}

func GetJobName(ctx context.Context) string {
	if name, ok := ctx.Value(CtxJobName).(string); ok {
		return name
	}
	return ""
}

// WithJobName tags ctx with the name of the background job driving it.
func WithJobName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, CtxJobName, name)
}
