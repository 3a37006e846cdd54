package authmgr

import (
	"context"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
)

// Store persists one Record per project key.
//
// The manager calls a Store only from its worker goroutine, so
// implementations need no locking on the manager's behalf.
type Store interface {
	// Load returns the stored record, or a zero (NoToken) record when
	// nothing has been stored for projectKey.
	Load(ctx context.Context, projectKey string) (Record, error)
	Save(ctx context.Context, projectKey string, rec Record) error
	Clear(ctx context.Context, projectKey string) error
}

// Gateway performs token exchanges. *authsdk.SDKClient implements it.
type Gateway interface {
	Exchange(ctx context.Context, ex authsdk.Exchange) (*authsdk.TokenResponse, error)
}

var _ Gateway = (*authsdk.SDKClient)(nil)
