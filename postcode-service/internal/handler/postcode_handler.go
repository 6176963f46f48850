package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toolhire/platform/postcode-service/internal/query"
	"github.com/toolhire/platform/shared/cqrs"
	"github.com/toolhire/platform/shared/middleware"
	"github.com/toolhire/platform/shared/models"
	"github.com/toolhire/platform/shared/postcode"
)

// PostcodeQuerier defines the read-side operations used by PostcodeHandler.
type PostcodeQuerier interface {
	Validate(context.Context, cqrs.ValidatePostcodeQuery) (*models.ValidationResult, error)
	CheckRegion(context.Context, cqrs.CheckRegionQuery) (*models.RegionCheck, error)
	ValidateBatch(context.Context, cqrs.ValidateBatchQuery) ([]models.ValidationResult, error)
	ListRecentLookups(context.Context, cqrs.ListRecentLookupsQuery) ([]models.LookupRecord, error)
}

// PostcodeHandler handles postcode-related HTTP requests.
type PostcodeHandler struct {
	queries PostcodeQuerier
}

// ValidatePostcodeRequest leaves an empty postcode to the resolver, which
// answers it with a ValidationResult rather than a field error.
type ValidatePostcodeRequest struct {
	Postcode string `json:"postcode"`
}

type CheckRegionRequest struct {
	Postcode string `json:"postcode" validate:"required,ukpostcode"`
	Region   string `json:"region" validate:"required"`
}

type ValidateBatchRequest struct {
	Postcodes []string `json:"postcodes" validate:"required,min=1,max=100"`
}

type RecentLookupsRequest struct {
	Limit int `form:"limit" validate:"omitempty,gte=1,lte=100"`
}

type ValidateBatchResponse struct {
	Results []models.ValidationResult `json:"results"`
}

type ListRegionsResponse struct {
	Regions map[postcode.Region][]string `json:"regions"`
}

type ListLookupsResponse struct {
	Lookups []models.LookupRecord `json:"lookups"`
}

const serviceUnavailableMessage = "Postcode validation service is unavailable, please try again later"

func NewPostcodeHandler(queries PostcodeQuerier) *PostcodeHandler {
	return &PostcodeHandler{queries: queries}
}

func (h *PostcodeHandler) ValidatePostcode(c *gin.Context) {
	var req ValidatePostcodeRequest
	// An empty body is a request without a postcode.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.queries.Validate(c.Request.Context(), cqrs.ValidatePostcodeQuery{Postcode: req.Postcode})
	if err != nil {
		h.respondWithLookupFailure(c, err)
		return
	}

	if !result.IsValid {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PostcodeHandler) CheckRegion(c *gin.Context) {
	var req CheckRegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	check, err := h.queries.CheckRegion(c.Request.Context(), cqrs.CheckRegionQuery{
		Postcode: req.Postcode,
		Region:   req.Region,
	})
	if err != nil {
		h.respondWithLookupFailure(c, err)
		return
	}

	if check.Error != "" {
		c.JSON(http.StatusBadRequest, check)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (h *PostcodeHandler) ListRegions(c *gin.Context) {
	c.JSON(http.StatusOK, ListRegionsResponse{Regions: postcode.Regions()})
}

func (h *PostcodeHandler) ValidateBatch(c *gin.Context) {
	var req ValidateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	results, err := h.queries.ValidateBatch(c.Request.Context(), cqrs.ValidateBatchQuery{Postcodes: req.Postcodes})
	if err != nil {
		if errors.Is(err, query.ErrBatchTooLarge) {
			middleware.RespondWithError(c, http.StatusBadRequest, "Too many postcodes in one request")
			return
		}
		h.respondWithLookupFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, ValidateBatchResponse{Results: results})
}

func (h *PostcodeHandler) ListRecentLookups(c *gin.Context) {
	var req RecentLookupsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	lookups, err := h.queries.ListRecentLookups(c.Request.Context(), cqrs.ListRecentLookupsQuery{Limit: req.Limit})
	if err != nil {
		if errors.Is(err, query.ErrAuditDisabled) {
			middleware.RespondWithError(c, http.StatusServiceUnavailable, "Lookup history is not available")
			return
		}
		slog.Error("failed to list lookups", "error", err, "request_id", middleware.GetRequestID(c))
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to list lookups")
		return
	}

	c.JSON(http.StatusOK, ListLookupsResponse{Lookups: lookups})
}

// respondWithLookupFailure hides registry details from the client.
func (h *PostcodeHandler) respondWithLookupFailure(c *gin.Context, err error) {
	_ = c.Error(err)
	slog.Error("postcode lookup failed", "error", err, "request_id", middleware.GetRequestID(c))
	middleware.RespondWithError(c, http.StatusInternalServerError, serviceUnavailableMessage)
}
