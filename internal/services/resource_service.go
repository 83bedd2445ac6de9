package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"emoney-portal/internal/listing"
	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"
	"emoney-portal/models"
)

// ResourceService is the shared list and mutation surface behind every CRUD
// and report screen.
type ResourceService struct {
	api          PlatformAPI
	maxRangeDays int
}

func NewResourceService(api PlatformAPI, maxRangeDays int) *ResourceService {
	return &ResourceService{api: api, maxRangeDays: maxRangeDays}
}

func (s *ResourceService) resolve(sess *models.Session, name string) (platform.Resource, error) {
	res, err := platform.LookupResource(name)
	if err != nil {
		return res, err
	}
	if !res.AllowsTenant(sess.Tenant) {
		return res, fmt.Errorf("%w: %s", status.ErrForbidden, name)
	}
	return res, nil
}

func (s *ResourceService) Catalog(sess *models.Session) []platform.Resource {
	return platform.Catalog(sess.Tenant)
}

// List validates the query before any platform call is made.
func (s *ResourceService) List(ctx context.Context, sess *models.Session, name string, params url.Values) (*listing.Result[listing.Row], error) {
	res, err := s.resolve(sess, name)
	if err != nil {
		return nil, err
	}
	q, err := listing.ParseQuery(params)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(res, s.maxRangeDays); err != nil {
		return nil, err
	}

	var page listing.Page[listing.Row]
	if err := s.api.Get(ctx, platform.CallerFor(sess), res.Path, q.Values(), &page); err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	result := listing.NewResult(page, q)
	return &result, nil
}

func (s *ResourceService) Get(ctx context.Context, sess *models.Session, name, id string) (json.RawMessage, error) {
	res, err := s.resolve(sess, name)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := s.api.Get(ctx, platform.CallerFor(sess), itemPath(res, id), nil, &out); err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", name, id, err)
	}
	return out, nil
}

func (s *ResourceService) mutable(sess *models.Session, name string) (platform.Resource, error) {
	res, err := s.resolve(sess, name)
	if err != nil {
		return res, err
	}
	if !res.Mutable {
		return res, fmt.Errorf("%w: %s", status.ErrReadOnlyResource, name)
	}
	return res, nil
}

func (s *ResourceService) Create(ctx context.Context, sess *models.Session, name string, body json.RawMessage) (json.RawMessage, error) {
	res, err := s.mutable(sess, name)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := s.api.Post(ctx, platform.CallerFor(sess), res.Path, body, &out); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return out, nil
}

func (s *ResourceService) Update(ctx context.Context, sess *models.Session, name, id string, body json.RawMessage) (json.RawMessage, error) {
	res, err := s.mutable(sess, name)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := s.api.Put(ctx, platform.CallerFor(sess), itemPath(res, id), body, &out); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", name, id, err)
	}
	return out, nil
}

func (s *ResourceService) Patch(ctx context.Context, sess *models.Session, name, id string, body json.RawMessage) (json.RawMessage, error) {
	res, err := s.mutable(sess, name)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := s.api.Patch(ctx, platform.CallerFor(sess), itemPath(res, id), body, &out); err != nil {
		return nil, fmt.Errorf("patch %s/%s: %w", name, id, err)
	}
	return out, nil
}

func (s *ResourceService) Delete(ctx context.Context, sess *models.Session, name, id string) error {
	res, err := s.mutable(sess, name)
	if err != nil {
		return err
	}
	if err := s.api.Delete(ctx, platform.CallerFor(sess), itemPath(res, id), nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", name, id, err)
	}
	return nil
}

// ExportLink is the signed download URL issued by the platform.
type ExportLink struct {
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
}

// Export asks the platform for a signed report URL. The same filter and
// date-range rules as List apply.
func (s *ResourceService) Export(ctx context.Context, sess *models.Session, name string, params url.Values) (*ExportLink, error) {
	res, err := s.resolve(sess, name)
	if err != nil {
		return nil, err
	}
	if res.Export == "" {
		return nil, fmt.Errorf("%w: %s", status.ErrExportUnavailable, name)
	}
	q, err := listing.ParseQuery(params)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(res, s.maxRangeDays); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.api.Get(ctx, platform.CallerFor(sess), res.Export, q.Values(), &raw); err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}

	var link ExportLink
	if err := json.Unmarshal(raw, &link.URL); err == nil {
		return &link, nil
	}
	if err := json.Unmarshal(raw, &link); err != nil {
		return nil, fmt.Errorf("decode export link: %w", err)
	}
	return &link, nil
}

func itemPath(res platform.Resource, id string) string {
	return res.Path + "/" + url.PathEscape(id)
}
