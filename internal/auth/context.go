package auth

import "context"

type subjectKey struct{}

// anonymousActor 用于鉴权关闭时的审计记录。
const anonymousActor = "anonymous"

// WithSubject 把已认证的主体挂到请求上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 取出中间件写入的主体，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// Actor 返回审计日志中使用的操作者标识。
func Actor(ctx context.Context) string {
	subject := SubjectFromContext(ctx)
	switch {
	case subject == nil:
		return anonymousActor
	case subject.Username != "":
		return subject.Username
	case subject.ID != "":
		return subject.ID
	default:
		return anonymousActor
	}
}
