package routes

import (
	"net/http"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"

	"github.com/invopop/jsonschema"
	"github.com/labstack/echo/v4"
)

var entitySchemas = map[string]*jsonschema.Schema{
	"organization": reflectSchema(&common.Organization{}),
	"program":      reflectSchema(&common.Program{}),
	"association":  reflectSchema(&common.Association{}),
	"snapshot":     reflectSchema(&common.SnapshotInfo{}),
}

func reflectSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	return r.Reflect(v)
}

// GetSchemaHandler serves the JSON schema of a stored entity.
func GetSchemaHandler(c echo.Context) error {
	schema, ok := entitySchemas[c.Param("entity")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown entity"})
	}
	return c.JSON(http.StatusOK, schema)
}
