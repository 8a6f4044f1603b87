package routes

import (
	"errors"
	"net/http"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/middleware"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/server/util"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	"github.com/labstack/echo/v4"
)

type listOrganizationsParams struct {
	Region      string `query:"region"`
	Form        string `query:"form"`
	Name        string `query:"name"`
	ProgramName string `query:"program"`
	UGSName     string `query:"ugs"`
	Sort        string `query:"sort" validate:"omitempty,oneof=full_name region form type"`
	Order       string `query:"order" validate:"omitempty,oneof=asc desc"`
	Page        int    `query:"page" validate:"omitempty,min=1"`
}

type organizationListResponse struct {
	store.OrganizationPage
	Pages   []int           `json:"pages"`
	Filters store.ListParams `json:"filters"`
}

func GetOrganizationsHandler(c echo.Context) error {
	params := new(listOrganizationsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	list := store.ListParams{
		Region:      params.Region,
		Form:        params.Form,
		Name:        params.Name,
		ProgramName: params.ProgramName,
		UGSName:     params.UGSName,
		Sort:        store.SortField(params.Sort),
		Order:       store.SortOrder(params.Order),
		Page:        params.Page,
	}.Normalized()

	reader := c.(*middleware.AppContext).App.Store
	page, err := reader.ListOrganizations(c.Request().Context(), list)
	if err != nil {
		logger.Error("[Server] Failed to list organizations", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, organizationListResponse{
		OrganizationPage: page,
		Pages:            util.PageWindow(page.Page, page.TotalPages),
		Filters:          list,
	})
}

func GetOrganizationHandler(c echo.Context) error {
	type getOrganizationParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(getOrganizationParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	reader := c.(*middleware.AppContext).App.Store
	detail, err := reader.GetOrganization(c.Request().Context(), params.ID)
	if errors.Is(err, store.ErrOrganizationNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Organization not found"})
	}
	if err != nil {
		logger.Error("[Server] Failed to load organization", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, detail)
}
