package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/roleterms/internal/platform/httpx"
)

// Handler exposes user listing and role management endpoints.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	validator     *validator.Validate
	defaultTenant int64
}

// NewHandler builds Handler instance. defaultTenant applies when a request
// names no tenant.
func NewHandler(logger *slog.Logger, service *Service, defaultTenant int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), defaultTenant: defaultTenant}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.getUser)
		r.Put("/role", h.setRole)
		r.Post("/roles", h.addRole)
		r.Delete("/roles/{role}", h.removeRole)
		r.Delete("/membership", h.removeFromTenant)
	})
}

type roleRequest struct {
	Role string `json:"role" validate:"max=64"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(q); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	result, err := h.service.ListUsers(r.Context(), q)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, tenantID, ok := h.target(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get user failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	id, tenantID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRole(w, r)
	if !ok {
		return
	}
	if err := h.service.SetRole(r.Context(), tenantID, id, req.Role); err != nil {
		h.fail(w, "set role failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addRole(w http.ResponseWriter, r *http.Request) {
	id, tenantID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRole(w, r)
	if !ok {
		return
	}
	if err := h.service.AddRole(r.Context(), tenantID, id, req.Role); err != nil {
		h.fail(w, "add role failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	id, tenantID, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), tenantID, id, chi.URLParam(r, "role")); err != nil {
		h.fail(w, "remove role failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeFromTenant(w http.ResponseWriter, r *http.Request) {
	id, tenantID, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveFromTenant(r.Context(), tenantID, id); err != nil {
		h.fail(w, "remove from tenant failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		err = fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, ErrRoleRequired):
		err = fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	default:
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (id, tenantID int64, ok bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return 0, 0, false
	}
	tenantID, err = h.tenant(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return 0, 0, false
	}
	return id, tenantID, true
}

func (h *Handler) decodeRole(w http.ResponseWriter, r *http.Request) (roleRequest, bool) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return req, false
	}
	return req, true
}

func (h *Handler) tenant(values url.Values) (int64, error) {
	raw := values.Get("tenant")
	if raw == "" {
		return h.defaultTenant, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid tenant %q", raw)
	}
	return id, nil
}

func (h *Handler) parseQuery(values url.Values) (Query, error) {
	var (
		q   Query
		err error
	)
	if q.TenantID, err = h.tenant(values); err != nil {
		return q, err
	}
	q.Role = values.Get("role")
	q.RoleIn = splitList(values.Get("role__in"))
	q.RoleNotIn = splitList(values.Get("role__not_in"))
	q.Who = values.Get("who")
	q.Search = values.Get("search")
	if q.Include, err = splitIDs(values.Get("include")); err != nil {
		return q, err
	}
	if q.Exclude, err = splitIDs(values.Get("exclude")); err != nil {
		return q, err
	}
	q.MetaKey = values.Get("meta_key")
	q.MetaValue = values.Get("meta_value")
	if raw := values.Get("has_published_posts"); raw != "" {
		if q.HasPublishedPosts, err = strconv.ParseBool(raw); err != nil {
			return q, fmt.Errorf("invalid has_published_posts %q", raw)
		}
	}
	q.Nicename = values.Get("nicename")
	q.NicenameIn = splitList(values.Get("nicename__in"))
	q.NicenameNotIn = splitList(values.Get("nicename__not_in"))
	q.Login = values.Get("login")
	q.LoginIn = splitList(values.Get("login__in"))
	q.LoginNotIn = splitList(values.Get("login__not_in"))
	q.OrderBy = values.Get("orderby")
	q.Order = values.Get("order")
	if q.Number, err = atoiDefault(values.Get("number"), 0); err != nil {
		return q, err
	}
	if q.Offset, err = atoiDefault(values.Get("offset"), 0); err != nil {
		return q, err
	}
	return q, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitIDs(raw string) ([]int64, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func atoiDefault(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return n, nil
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fieldErr := range verrs {
		fields = append(fields, fieldErr.Field()+": "+fieldErr.Tag())
	}
	return strings.Join(fields, "; ")
}
