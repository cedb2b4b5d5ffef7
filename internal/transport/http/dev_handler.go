package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/localfs"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
)

// RegisterDevBucket mounts the local stand-in for the S3 presigned POST
// endpoint. Only the localfs backend routes uploads here; against real
// MinIO the client posts straight to the bucket.
func RegisterDevBucket(e *echo.Echo, store *localfs.Store) {
	e.POST("/api/v1/dev/bucket", func(c echo.Context) error {
		if err := c.Request().ParseMultipartForm(submitFormMemory); err != nil {
			return c.JSON(http.StatusBadRequest, util.Error("invalid multipart payload"))
		}

		form := c.Request().MultipartForm
		fields := make(map[string]string, len(form.Value))
		for key, values := range form.Value {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}

		key, contentType, maxBytes, err := store.VerifyPost(fields)
		if err != nil {
			return c.JSON(http.StatusForbidden, util.Error(err.Error()))
		}

		header, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, util.Error("file part required"))
		}
		if maxBytes > 0 && header.Size > maxBytes {
			return c.JSON(http.StatusBadRequest, util.Error("file exceeds signed size limit"))
		}

		file, err := header.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, util.Error("unable to read file part"))
		}
		defer func() { _ = file.Close() }()

		if contentType == "" {
			contentType = header.Header.Get(echo.HeaderContentType)
		}
		if err := store.Put(c.Request().Context(), key, contentType, file, header.Size); err != nil {
			return c.JSON(http.StatusInternalServerError, util.Error("unable to store object"))
		}
		return c.NoContent(http.StatusNoContent)
	})
}
