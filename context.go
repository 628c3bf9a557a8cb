package goMagicLink

import "context"

type ctxKey uint8

const (
	ctxKeyClientIP ctxKey = iota
	ctxKeyTenant
)

// WithClientIP attaches the caller's IP address to ctx. The event log falls
// back to it when FlowRequest.ClientIP is empty.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithTenantID attaches a tenant identifier to ctx. Authenticate falls back
// to it when FlowRequest.TenantID is empty.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenant, tenantID)
}

// ClientIPFromContext returns the IP stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := value(ctx, ctxKeyClientIP)
	return ip
}

// TenantIDFromContext returns the tenant stored by WithTenantID. Blank values
// report false.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	return value(ctx, ctxKeyTenant)
}

func value(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}
