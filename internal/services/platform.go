package services

import (
	"context"
	"net/url"

	"emoney-portal/internal/platform"
)

// PlatformAPI is the subset of the platform client the services call.
type PlatformAPI interface {
	Get(ctx context.Context, caller platform.Caller, path string, query url.Values, out any) error
	Post(ctx context.Context, caller platform.Caller, path string, body, out any) error
	Put(ctx context.Context, caller platform.Caller, path string, body, out any) error
	Patch(ctx context.Context, caller platform.Caller, path string, body, out any) error
	Delete(ctx context.Context, caller platform.Caller, path string, out any) error
}
