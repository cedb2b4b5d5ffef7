package http

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
)

var swaggerSpec struct {
	once sync.Once
	json []byte
	err  error
}

func loadSwaggerSpec() ([]byte, error) {
	swaggerSpec.once.Do(func() {
		data, err := os.ReadFile(filepath.Join("docs", "swagger.yaml"))
		if err != nil {
			swaggerSpec.err = err
			return
		}
		swaggerSpec.json, swaggerSpec.err = yaml.YAMLToJSON(data)
	})
	return swaggerSpec.json, swaggerSpec.err
}

// RegisterSwagger registers the Swagger UI handler under /swagger.
func RegisterSwagger(e *echo.Echo) {
	e.GET("/swagger/doc.json", func(c echo.Context) error {
		jsonSpec, err := loadSwaggerSpec()
		if err != nil {
			c.Logger().Errorf("load swagger spec: %v", err)
			return c.JSON(http.StatusInternalServerError, util.Error("unable to load swagger spec"))
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, jsonSpec)
	})
	e.GET("/swagger/*", echoSwagger.WrapHandler)
}
