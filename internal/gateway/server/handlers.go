package server

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/common/httputil"
	"github.com/linkmesh/engine/internal/shortener/creator"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

func isErr(err, target error) bool { return errors.Is(err, target) }

// createRequest is the POST /api/links body.
type createRequest struct {
	URL        string             `json:"url"`
	CustomCode string             `json:"custom_code,omitempty"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	MaxClicks  *int64             `json:"max_clicks,omitempty"`
	Metadata   types.LinkMetadata `json:"metadata,omitempty"`
}

// patchRequest is the PATCH /api/links/{id} body. Absent fields stay
// untouched; metadata keys merge into the existing map.
type patchRequest struct {
	IsActive       *bool              `json:"is_active,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	ClearExpiresAt bool               `json:"clear_expires_at,omitempty"`
	Metadata       types.LinkMetadata `json:"metadata,omitempty"`
}

type listResponse struct {
	Links    []*types.ShortLink `json:"links"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

func (s *Server) handleLinksCollection(ctx *fasthttp.RequestCtx, tenantID int64, logger *zap.Logger) {
	switch {
	case ctx.IsPost():
		s.handleCreate(ctx, tenantID, logger)
	case ctx.IsGet():
		s.handleList(ctx, tenantID, logger)
	default:
		httputil.JSONError(ctx, "Method not allowed", fasthttp.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLinksItem(ctx *fasthttp.RequestCtx, tenantID int64, rawID string, logger *zap.Logger) {
	if code, ok := strings.CutPrefix(rawID, "code/"); ok {
		if !ctx.IsGet() {
			httputil.JSONError(ctx, "Method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		s.handleGetByCode(ctx, tenantID, code, logger)
		return
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		httputil.JSONError(ctx, "Invalid link id", fasthttp.StatusBadRequest)
		return
	}

	switch {
	case ctx.IsGet():
		s.handleGet(ctx, tenantID, id, logger)
	case string(ctx.Method()) == fasthttp.MethodPatch:
		s.handlePatch(ctx, tenantID, id, logger)
	case ctx.IsDelete():
		s.handleDelete(ctx, tenantID, id, logger)
	default:
		httputil.JSONError(ctx, "Method not allowed", fasthttp.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreate(ctx *fasthttp.RequestCtx, tenantID int64, logger *zap.Logger) {
	var req createRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.metrics.Create("invalid")
		httputil.JSONError(ctx, "Invalid JSON body", fasthttp.StatusBadRequest)
		return
	}
	if req.URL == "" {
		s.metrics.Create("invalid")
		httputil.JSONError(ctx, "url is required", fasthttp.StatusBadRequest)
		return
	}

	result, err := s.creator.Create(ctx, creator.Params{
		TenantID:   tenantID,
		RawURL:     req.URL,
		CreatorID:  creatorID(ctx),
		CustomCode: req.CustomCode,
		ExpiresAt:  req.ExpiresAt,
		MaxClicks:  req.MaxClicks,
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.writeCreateError(ctx, err, logger)
		return
	}

	if result.Reused {
		s.metrics.Create("reused")
		httputil.JSONData(ctx, result.Link, fasthttp.StatusOK)
		return
	}
	s.metrics.Create("created")
	logger.Info("Short link created",
		zap.Int64("link_id", result.Link.ID),
		zap.String("code", result.Link.Code))
	httputil.JSONData(ctx, result.Link, fasthttp.StatusCreated)
}

func (s *Server) writeCreateError(ctx *fasthttp.RequestCtx, err error, logger *zap.Logger) {
	switch {
	case isErr(err, types.ErrInvalidURL), isErr(err, types.ErrInvalidCode):
		s.metrics.Create("invalid")
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
	case isErr(err, types.ErrCodeTaken):
		s.metrics.Create("code_taken")
		httputil.JSONError(ctx, "Custom code is already taken", fasthttp.StatusConflict)
	case isErr(err, types.ErrCollisionUnresolved):
		s.metrics.Create("collision")
		logger.Error("Create failed on unresolved code collision", zap.Error(err))
		httputil.JSONError(ctx, "Could not derive a unique code", fasthttp.StatusInternalServerError)
	default:
		s.metrics.Create("error")
		logger.Error("Create failed", zap.Error(err))
		httputil.JSONError(ctx, "Service unavailable", fasthttp.StatusServiceUnavailable)
	}
}

func (s *Server) handleList(ctx *fasthttp.RequestCtx, tenantID int64, logger *zap.Logger) {
	params := store.ListParams{
		Page:     ctx.QueryArgs().GetUintOrZero("page"),
		PageSize: ctx.QueryArgs().GetUintOrZero("page_size"),
		Sort:     string(ctx.QueryArgs().Peek("sort")),
	}.Normalize()

	links, total, err := s.admin.List(ctx, tenantID, params)
	if err != nil {
		logger.Error("List failed", zap.Error(err))
		httputil.JSONError(ctx, "Service unavailable", fasthttp.StatusServiceUnavailable)
		return
	}
	if links == nil {
		links = []*types.ShortLink{}
	}

	httputil.JSONData(ctx, listResponse{
		Links:    links,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}, fasthttp.StatusOK)
}

func (s *Server) handleGet(ctx *fasthttp.RequestCtx, tenantID, id int64, logger *zap.Logger) {
	link, err := s.admin.GetByID(ctx, tenantID, id)
	if err != nil {
		if isErr(err, types.ErrNotFound) {
			httputil.JSONError(ctx, "Link not found", fasthttp.StatusNotFound)
			return
		}
		logger.Error("Get failed", zap.Int64("link_id", id), zap.Error(err))
		httputil.JSONError(ctx, "Service unavailable", fasthttp.StatusServiceUnavailable)
		return
	}
	httputil.JSONData(ctx, link, fasthttp.StatusOK)
}

func (s *Server) handleGetByCode(ctx *fasthttp.RequestCtx, tenantID int64, code string, logger *zap.Logger) {
	link, err := s.admin.GetByCode(ctx, tenantID, code)
	if err != nil {
		if isErr(err, types.ErrNotFound) {
			httputil.JSONError(ctx, "Link not found", fasthttp.StatusNotFound)
			return
		}
		logger.Error("Get by code failed", zap.String("code", code), zap.Error(err))
		httputil.JSONError(ctx, "Service unavailable", fasthttp.StatusServiceUnavailable)
		return
	}
	httputil.JSONData(ctx, link, fasthttp.StatusOK)
}

func (s *Server) handlePatch(ctx *fasthttp.RequestCtx, tenantID, id int64, logger *zap.Logger) {
	var req patchRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		httputil.JSONError(ctx, "Invalid JSON body", fasthttp.StatusBadRequest)
		return
	}
	if req.ExpiresAt != nil && req.ClearExpiresAt {
		httputil.JSONError(ctx, "expires_at and clear_expires_at are mutually exclusive", fasthttp.StatusBadRequest)
		return
	}

	link, err := s.admin.UpdateMetadata(ctx, tenantID, id, store.MetadataPatch{
		IsActive:       req.IsActive,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if isErr(err, types.ErrNotFound) {
			httputil.JSONError(ctx, "Link not found", fasthttp.StatusNotFound)
			return
		}
		logger.Error("Patch failed", zap.Int64("link_id", id), zap.Error(err))
		httputil.JSONError(ctx, "Service unavailable", fasthttp.StatusServiceUnavailable)
		return
	}
	logger.Info("Link metadata updated", zap.Int64("link_id", id))
	httputil.JSONData(ctx, link, fasthttp.StatusOK)
}

func (s *Server) handleDelete(ctx *fasthttp.RequestCtx, tenantID, id int64, logger *zap.Logger) {
	if err := s.admin.SoftDelete(ctx, tenantID, id); err != nil {
		logger.Error("Delete failed", zap.Int64("link_id", id), zap.Error(err))
		httputil.JSONError(ctx, "Service unavailable", fasthttp.StatusServiceUnavailable)
		return
	}
	logger.Info("Link soft-deleted", zap.Int64("link_id", id))
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// creatorID reads the caller identity the upstream auth layer injected.
// Zero when absent: identity is an external collaborator's concern.
func creatorID(ctx *fasthttp.RequestCtx) int64 {
	raw := string(ctx.Request.Header.Peek("X-Creator-ID"))
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
