package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/mailbox"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/service"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
	"github.com/zulfikar2701/sakae-riken-screws-detection/pkg/validator"
)

const submitFormMemory = 32 << 20

type InspectionHandler struct {
	inspections *service.InspectionService
}

type InspectionResponse struct {
	domain.Inspection
	OriginalURL string `json:"original_url,omitempty"`
	ResultURL   string `json:"result_url,omitempty"`
}

type InspectionListResponse struct {
	Inspections []InspectionResponse `json:"inspections"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

type PresignedCreateRequest struct {
	Source      string `json:"source" validate:"omitempty,oneof=camera upload"`
	FileName    string `json:"file_name" validate:"omitempty,max=255"`
	ContentType string `json:"content_type" validate:"required"`
	SizeBytes   int64  `json:"size_bytes" validate:"required,gt=0"`
}

type PresignedCreateResponse struct {
	Inspection InspectionResponse    `json:"inspection"`
	Post       mailbox.PresignedPost `json:"post"`
}

func RegisterInspections(e *echo.Echo, auth *service.AuthService, inspections *service.InspectionService) {
	handler := &InspectionHandler{inspections: inspections}

	public := e.Group("/api/v1/inspections")
	public.POST("", handler.submit)
	public.POST("/presigned", handler.createPresigned)
	public.POST("/:id/submitted", handler.confirmSubmission)
	public.GET("/:id", handler.getInspection)
	public.GET("/:id/result", handler.downloadResult)
	public.GET("/:id/original", handler.downloadOriginal)

	protected := e.Group("/api/v1/inspections", RequireOperator(auth))
	protected.GET("", handler.listInspections)
	protected.GET("/stats", handler.stats)
	protected.DELETE("/:id", handler.deleteInspection)
}

// submit handles POST /api/v1/inspections
func (h *InspectionHandler) submit(c echo.Context) error {
	wait, err := parseWaitParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}

	if err := c.Request().ParseMultipartForm(submitFormMemory); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid multipart payload"))
	}

	header, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("image file part required"))
	}
	file, err := header.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("unable to read image part"))
	}
	defer func() { _ = file.Close() }()

	insp, err := h.inspections.Submit(c.Request().Context(), service.SubmissionInput{
		Source:      c.FormValue("source"),
		Reader:      file,
		FileName:    header.Filename,
		ContentType: header.Header.Get(echo.HeaderContentType),
		Size:        header.Size,
		Wait:        wait,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionValidation):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrInspectionConflict):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to submit inspection"))
		}
	}

	status := http.StatusCreated
	if !wait {
		status = http.StatusAccepted
	}
	return c.JSON(status, toInspectionResponse(*insp))
}

// createPresigned handles POST /api/v1/inspections/presigned
func (h *InspectionHandler) createPresigned(c echo.Context) error {
	var req PresignedCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request payload"))
	}
	if err := c.Validate(&req); err != nil {
		var verr *validator.Error
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, util.FieldErrors(verr.Fields))
		}
		return c.JSON(http.StatusBadRequest, util.Error("invalid request payload"))
	}

	grant, err := h.inspections.PresignedSubmission(c.Request().Context(), service.PresignRequest{
		Source:      req.Source,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionValidation):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrInspectionConflict):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to create presigned submission"))
		}
	}

	resp := PresignedCreateResponse{
		Inspection: toInspectionResponse(*grant.Inspection),
		Post:       grant.Post,
	}
	return c.JSON(http.StatusCreated, resp)
}

// confirmSubmission handles POST /api/v1/inspections/{id}/submitted
func (h *InspectionHandler) confirmSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid inspection id"))
	}
	wait, err := parseWaitParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}

	insp, err := h.inspections.ConfirmSubmission(c.Request().Context(), id, wait)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		case errors.Is(err, service.ErrSubmissionNotUploaded):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		case errors.Is(err, service.ErrInspectionConflict):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to confirm submission"))
		}
	}

	status := http.StatusOK
	if !wait && !insp.Status.Terminal() {
		status = http.StatusAccepted
	}
	return c.JSON(status, toInspectionResponse(*insp))
}

// getInspection handles GET /api/v1/inspections/{id}
func (h *InspectionHandler) getInspection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid inspection id"))
	}

	insp, err := h.inspections.Get(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to fetch inspection"))
		}
	}
	return c.JSON(http.StatusOK, toInspectionResponse(*insp))
}

// downloadResult handles GET /api/v1/inspections/{id}/result
func (h *InspectionHandler) downloadResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid inspection id"))
	}

	reader, info, err := h.inspections.Result(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		case errors.Is(err, service.ErrResultNotReady):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to fetch result"))
		}
	}
	defer func() { _ = reader.Close() }()
	return streamObject(c, reader, info)
}

// downloadOriginal handles GET /api/v1/inspections/{id}/original
func (h *InspectionHandler) downloadOriginal(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid inspection id"))
	}

	reader, info, err := h.inspections.Original(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to fetch original image"))
		}
	}
	defer func() { _ = reader.Close() }()
	return streamObject(c, reader, info)
}

// listInspections handles GET /api/v1/inspections
func (h *InspectionHandler) listInspections(c echo.Context) error {
	filter, err := parseInspectionFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}

	result, err := h.inspections.List(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to list inspections"))
	}

	inspections := make([]InspectionResponse, 0, len(result.Inspections))
	for _, insp := range result.Inspections {
		inspections = append(inspections, toInspectionResponse(insp))
	}
	return c.JSON(http.StatusOK, InspectionListResponse{
		Inspections: inspections,
		Limit:       result.Limit,
		Offset:      result.Offset,
	})
}

// stats handles GET /api/v1/inspections/stats
func (h *InspectionHandler) stats(c echo.Context) error {
	stats, err := h.inspections.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to compute stats"))
	}
	return c.JSON(http.StatusOK, stats)
}

// deleteInspection handles DELETE /api/v1/inspections/{id}
func (h *InspectionHandler) deleteInspection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid inspection id"))
	}

	if err := h.inspections.Delete(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrInspectionNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		default:
			return c.JSON(http.StatusInternalServerError, util.Error("unable to delete inspection"))
		}
	}
	return c.JSON(http.StatusOK, util.Envelope{"success": true})
}

func parseWaitParam(c echo.Context) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam("wait"))
	if raw == "" {
		return true, nil
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("wait must be a boolean")
	}
	return wait, nil
}

func parseInspectionFilter(c echo.Context) (domain.InspectionListFilter, error) {
	filter := domain.InspectionListFilter{}

	if limitStr := strings.TrimSpace(c.QueryParam("limit")); limitStr != "" {
		val, err := strconv.Atoi(limitStr)
		if err != nil {
			return domain.InspectionListFilter{}, errors.New("limit must be an integer")
		}
		filter.Limit = val
	}
	if offsetStr := strings.TrimSpace(c.QueryParam("offset")); offsetStr != "" {
		val, err := strconv.Atoi(offsetStr)
		if err != nil {
			return domain.InspectionListFilter{}, errors.New("offset must be an integer")
		}
		filter.Offset = val
	}
	if statusStr := strings.TrimSpace(c.QueryParam("status")); statusStr != "" {
		status, err := domain.ParseInspectionStatus(statusStr)
		if err != nil {
			return domain.InspectionListFilter{}, errors.New("status is not a known inspection status")
		}
		filter.Status = &status
	}
	if sourceStr := strings.TrimSpace(c.QueryParam("source")); sourceStr != "" {
		source, err := domain.ParseInspectionSource(sourceStr)
		if err != nil {
			return domain.InspectionListFilter{}, errors.New("source must be camera or upload")
		}
		filter.Source = &source
	}
	if afterStr := strings.TrimSpace(c.QueryParam("submitted_after")); afterStr != "" {
		t, err := time.Parse(time.RFC3339, afterStr)
		if err != nil {
			return domain.InspectionListFilter{}, errors.New("submitted_after must be an RFC3339 timestamp")
		}
		filter.SubmittedAfter = &t
	}
	if beforeStr := strings.TrimSpace(c.QueryParam("submitted_before")); beforeStr != "" {
		t, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			return domain.InspectionListFilter{}, errors.New("submitted_before must be an RFC3339 timestamp")
		}
		filter.SubmittedBefore = &t
	}

	switch strings.ToLower(strings.TrimSpace(c.QueryParam("sort"))) {
	case "updated_at":
		filter.SortField = domain.InspectionSortUpdatedAt
	default:
		filter.SortField = domain.InspectionSortSubmittedAt
	}

	switch strings.ToLower(strings.TrimSpace(c.QueryParam("order"))) {
	case "asc":
		filter.SortOrder = domain.SortOrderAsc
	default:
		filter.SortOrder = domain.SortOrderDesc
	}

	return filter, nil
}

func streamObject(c echo.Context, reader io.Reader, info ports.ObjectInfo) error {
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if info.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, reader)
}

func toInspectionResponse(insp domain.Inspection) InspectionResponse {
	resp := InspectionResponse{Inspection: insp}
	base := "/api/v1/inspections/" + insp.ID.String()
	switch insp.Status {
	case domain.InspectionStatusCompleted:
		resp.OriginalURL = base + "/original"
		resp.ResultURL = base + "/result"
	case domain.InspectionStatusAwaitingResult, domain.InspectionStatusTimedOut:
		resp.OriginalURL = base + "/original"
	}
	return resp
}
