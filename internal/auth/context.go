package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxOrgID
	ctxRole
)

// Identity is the authenticated caller of a client-facing request.
type Identity struct {
	UserID string
	OrgID  string
	Role   string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxOrgID, id.OrgID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	return ctx
}

// IdentityFrom returns whatever identity fields are present; missing ones are empty.
func IdentityFrom(ctx context.Context) Identity {
	id := Identity{}
	id.UserID, _ = ctx.Value(ctxUserID).(string)
	id.OrgID, _ = ctx.Value(ctxOrgID).(string)
	id.Role, _ = ctx.Value(ctxRole).(string)
	return id
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
