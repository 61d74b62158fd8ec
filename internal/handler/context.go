package handler

import (
	"context"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
)

type ContextKey string

var (
	ActorCtxKey   ContextKey = "actor"
	TokenIDCtxKey ContextKey = "tokenID"
	TokenExpCtx   ContextKey = "tokenExpiresAt"
	MyInfoCtx     ContextKey = "myInfo"
	UserInfoCtx   ContextKey = "userInfo"
	KnowledgeCtx  ContextKey = "knowledgeID"
)

func actorFrom(ctx context.Context) workflow.Actor {
	actor, _ := ctx.Value(ActorCtxKey).(workflow.Actor)
	return actor
}
