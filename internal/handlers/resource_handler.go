package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"emoney-portal/internal/listing"
	"emoney-portal/internal/platform"
	"emoney-portal/internal/services"
	"emoney-portal/models"
)

type Resources interface {
	Catalog(sess *models.Session) []platform.Resource
	List(ctx context.Context, sess *models.Session, name string, params url.Values) (*listing.Result[listing.Row], error)
	Get(ctx context.Context, sess *models.Session, name, id string) (json.RawMessage, error)
	Create(ctx context.Context, sess *models.Session, name string, body json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, sess *models.Session, name, id string, body json.RawMessage) (json.RawMessage, error)
	Patch(ctx context.Context, sess *models.Session, name, id string, body json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, sess *models.Session, name, id string) error
	Export(ctx context.Context, sess *models.Session, name string, params url.Values) (*services.ExportLink, error)
}

type ResourceHandler struct {
	resources Resources
}

func NewResourceHandler(resources Resources) *ResourceHandler {
	return &ResourceHandler{resources: resources}
}

type catalogEntry struct {
	Name      string   `json:"name"`
	Filters   []string `json:"filters,omitempty"`
	Sortable  []string `json:"sortable,omitempty"`
	DateRange bool     `json:"date_range"`
	Mutable   bool     `json:"mutable"`
	Export    bool     `json:"export"`
}

func (h *ResourceHandler) Catalog(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	entries := []catalogEntry{}
	for _, r := range h.resources.Catalog(sess) {
		entries = append(entries, catalogEntry{
			Name:      r.Name,
			Filters:   r.Filters,
			Sortable:  r.Sortable,
			DateRange: r.DateRange,
			Mutable:   r.Mutable,
			Export:    r.Export != "",
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"items": entries})
}

func (h *ResourceHandler) List(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	result, err := h.resources.List(e.Request.Context(), sess, e.Request.PathValue("resource"), e.Request.URL.Query())
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, result)
}

func (h *ResourceHandler) Get(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	item, err := h.resources.Get(e.Request.Context(), sess, e.Request.PathValue("resource"), e.Request.PathValue("id"))
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, item)
}

func (h *ResourceHandler) Create(e *core.RequestEvent) error {
	sess, body, err := h.bind(e)
	if err != nil {
		return err
	}
	item, err := h.resources.Create(e.Request.Context(), sess, e.Request.PathValue("resource"), body)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusCreated, item)
}

func (h *ResourceHandler) Update(e *core.RequestEvent) error {
	sess, body, err := h.bind(e)
	if err != nil {
		return err
	}
	item, err := h.resources.Update(e.Request.Context(), sess, e.Request.PathValue("resource"), e.Request.PathValue("id"), body)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, item)
}

func (h *ResourceHandler) Patch(e *core.RequestEvent) error {
	sess, body, err := h.bind(e)
	if err != nil {
		return err
	}
	item, err := h.resources.Patch(e.Request.Context(), sess, e.Request.PathValue("resource"), e.Request.PathValue("id"), body)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, item)
}

func (h *ResourceHandler) Delete(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	if err := h.resources.Delete(e.Request.Context(), sess, e.Request.PathValue("resource"), e.Request.PathValue("id")); err != nil {
		return portalErrors.Respond(err)
	}
	return e.NoContent(http.StatusNoContent)
}

func (h *ResourceHandler) Export(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	link, err := h.resources.Export(e.Request.Context(), sess, e.Request.PathValue("resource"), e.Request.URL.Query())
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, link)
}

func (h *ResourceHandler) bind(e *core.RequestEvent) (*models.Session, json.RawMessage, error) {
	sess, err := currentSession(e)
	if err != nil {
		return nil, nil, portalErrors.Respond(err)
	}
	var body json.RawMessage
	if err := e.BindBody(&body); err != nil {
		return nil, nil, apis.NewBadRequestError("Invalid request", err)
	}
	if len(body) == 0 {
		return nil, nil, apis.NewBadRequestError("Request body is required", nil)
	}
	return sess, body, nil
}
