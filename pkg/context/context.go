package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	TenantIDKey  = ContextKey("X-Tenant-Id")
	ContactIDKey = ContextKey("X-Contact-Id")
	RuleIDKey    = ContextKey("X-Rule-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	value, ok := ctx.Value(MethodKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	value, ok := ctx.Value(RouteKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	value, ok := ctx.Value(RemoteIPKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	value, ok := ctx.Value(TenantIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// SetContactID tags the context with the contact an automation is acting on.
func SetContactID(ctx context.Context, contactID string) context.Context {
	return context.WithValue(ctx, ContactIDKey, contactID)
}

func GetContactID(ctx context.Context) string {
	value, ok := ctx.Value(ContactIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// SetRuleID tags the context with the trigger rule that initiated the dispatch.
func SetRuleID(ctx context.Context, ruleID string) context.Context {
	return context.WithValue(ctx, RuleIDKey, ruleID)
}

func GetRuleID(ctx context.Context) string {
	value, ok := ctx.Value(RuleIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
