// ABOUTME: Adapts a possibly-nil store.Store to auth.OperatorLookup for the bearer middleware.

package httpapi

import (
	"context"
	"errors"

	"github.com/2389/agentfabric/internal/store"
)

// operatorLookup satisfies auth.OperatorLookup. When the fabric has no
// configured store (persistence disabled), every lookup fails closed —
// the admin API requires persistence to authenticate operators.
type operatorLookup struct {
	store store.Store
}

func (o operatorLookup) GetOperator(ctx context.Context, id string) (store.OperatorRecord, error) {
	if o.store == nil {
		return store.OperatorRecord{}, errors.New("httpapi: operator auth requires a configured database")
	}
	return o.store.GetOperator(ctx, id)
}
