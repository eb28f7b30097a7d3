package requestdata

import (
	"context"

	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/types"
)

type ctxKey struct{}

var requestDataKey = ctxKey{}

type RequestData struct {
	TokenString string
	UserID      uuid.UUID
	Role        string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

func (rd *RequestData) Actor() types.Actor {
	if rd == nil {
		return types.Actor{}
	}
	return types.Actor{ID: rd.UserID, Role: rd.Role}
}
