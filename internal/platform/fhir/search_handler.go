package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirsearch/pkg/pagination"
)

// maxResourceBody caps the resource posted to $extract.
const maxResourceBody = 4 << 20

// SearchHandler exposes search context resolution over HTTP so clients and
// operators can see how a query is interpreted for a tenant.
type SearchHandler struct {
	builder   *SearchContextBuilder
	registry  *Registry
	model     ResourceModel
	extractor *Extractor
	lenient   bool
	logger    zerolog.Logger
}

// NewSearchHandler creates a SearchHandler. lenient is the handling used
// when a request sends no Prefer: handling directive.
func NewSearchHandler(builder *SearchContextBuilder, registry *Registry, model ResourceModel, extractor *Extractor, lenient bool, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{
		builder:   builder,
		registry:  registry,
		model:     model,
		extractor: extractor,
		lenient:   lenient,
		logger:    logger,
	}
}

// RegisterRoutes registers the search routes on the /fhir group.
func (h *SearchHandler) RegisterRoutes(fhirGroup *echo.Group) {
	build := SearchContextMiddleware(h.builder, h.lenient)
	fhirGroup.Use(PreferHandlingMiddleware(DefaultHandling(h.lenient)))

	fhirGroup.GET("/_search-context", h.SearchContext, build)
	fhirGroup.POST("/_search-context", h.SearchContext, build)
	fhirGroup.GET("/:resourceType/_search-context", h.SearchContext, build)
	fhirGroup.POST("/:resourceType/_search-context", h.SearchContext, build)
	fhirGroup.GET("/:compartment/:id/:resourceType/_search-context", h.SearchContext, build)
	fhirGroup.GET("/:resourceType/_search-parameters", h.SearchParameters)
	fhirGroup.POST("/:resourceType/$extract", h.Extract, build)
}

// RegisterAdminRoutes registers tenant administration on the /admin group.
func (h *SearchHandler) RegisterAdminRoutes(adminGroup *echo.Group) {
	adminGroup.GET("/tenants", h.ListTenants)
	adminGroup.POST("/tenants/:tenant/reload", h.ReloadTenant)
}

// SearchContextResponse is the body of the _search-context routes.
// Previous and Next address the neighbouring pages; a search context has no
// total, so Next is set whenever results are paged.
type SearchContextResponse struct {
	SearchContext *SearchContext    `json:"searchContext"`
	Self          string            `json:"self"`
	Offset        int               `json:"offset"`
	Previous      string            `json:"previous,omitempty"`
	Next          string            `json:"next,omitempty"`
	Outcome       *OperationOutcome `json:"outcome,omitempty"`
}

// SearchContext handles GET [base]/[type]/_search-context.
func (h *SearchHandler) SearchContext(c echo.Context) error {
	sc, ok := GetSearchContext(c)
	if !ok {
		return c.JSON(http.StatusInternalServerError, InternalErrorOutcome("search context not built"))
	}
	base := baseURL(c)
	resp := SearchContextResponse{
		SearchContext: sc,
		Self:          BuildSelfURI(base, sc.ResourceType, sc),
		Outcome:       OutcomeFromWarnings(sc.Warnings),
	}
	if page := sc.Page(); !page.CountOnly {
		resp.Offset = page.Offset()
		resp.Next = BuildPageURI(base, sc.ResourceType, sc, page.PageNumber+1)
		if page.HasPrevious() {
			resp.Previous = BuildPageURI(base, sc.ResourceType, sc, page.PageNumber-1)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// SearchParameterList is the body of the _search-parameters route. Total
// counts every definition; Parameters holds the requested page.
type SearchParameterList struct {
	Tenant       string                `json:"tenant"`
	ResourceType string                `json:"resourceType"`
	Generation   uint64                `json:"generation"`
	Total        int                   `json:"total"`
	Parameters   []*SearchParameterDef `json:"parameters"`
	Previous     string                `json:"previous,omitempty"`
	Next         string                `json:"next,omitempty"`
}

// SearchParameters handles GET [base]/[type]/_search-parameters, listing
// what the request's tenant can search on, paged by _count and _page.
func (h *SearchHandler) SearchParameters(c echo.Context) error {
	resourceType := c.Param("resourceType")
	if resourceType != ResourceBase && !h.model.IsResourceType(resourceType) {
		return c.JSON(http.StatusNotFound, NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported,
			fmt.Sprintf("'%s' is not a resource type", resourceType)))
	}
	page, err := pagination.FromContext(c, h.builder.pages)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, err.Error()))
	}

	tenantID, _ := c.Get("tenant_id").(string)
	snap := h.registry.Snapshot(tenantID)
	all := snap.ParametersFor(resourceType)
	out := SearchParameterList{
		Tenant:       snap.Tenant(),
		ResourceType: resourceType,
		Generation:   snap.Generation(),
		Total:        len(all),
		Parameters:   []*SearchParameterDef{},
	}
	if page.CountOnly {
		return c.JSON(http.StatusOK, out)
	}
	if start := page.Offset(); start < len(all) {
		out.Parameters = all[start:min(start+page.PageSize, len(all))]
	}
	path := c.Request().URL.Path
	if page.HasNext(len(all)) {
		out.Next = listPageURI(path, page.PageSize, page.PageNumber+1)
	}
	if page.HasPrevious() {
		out.Previous = listPageURI(path, page.PageSize, page.PageNumber-1)
	}
	return c.JSON(http.StatusOK, out)
}

func listPageURI(path string, size, page int) string {
	q := url.Values{}
	q.Set(paramCount, strconv.Itoa(size))
	q.Set(paramPage, strconv.Itoa(page))
	return path + "?" + q.Encode()
}

// ExtractResponse is the body of $extract.
type ExtractResponse struct {
	Values   []ExtractedValue `json:"values"`
	Resource map[string]any   `json:"resource"`
}

// Extract handles POST [base]/[type]/$extract. It evaluates every search
// parameter of the tenant against the posted resource, and returns the
// resource shaped by the request's _elements or _summary.
func (h *SearchHandler) Extract(c echo.Context) error {
	resourceType := c.Param("resourceType")
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxResourceBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorOutcome("failed to read request body"))
	}

	var resource map[string]any
	if err := json.Unmarshal(body, &resource); err != nil {
		return c.JSON(http.StatusBadRequest, NewOperationOutcome(IssueSeverityError, IssueTypeStructure, "body is not a JSON resource"))
	}
	if rt, _ := resource["resourceType"].(string); rt != resourceType {
		return c.JSON(http.StatusBadRequest, NewOperationOutcome(IssueSeverityError, IssueTypeInvalid,
			fmt.Sprintf("resourceType %q does not match %s", rt, resourceType)))
	}

	tenantID, _ := c.Get("tenant_id").(string)
	values, err := h.extractor.Extract(body, h.registry.ParametersFor(tenantID, resourceType))
	if err != nil {
		h.logger.Error().Err(err).Str("resourceType", resourceType).Msg("search parameter extraction failed")
		return c.JSON(http.StatusUnprocessableEntity, NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, err.Error()))
	}
	if values == nil {
		values = []ExtractedValue{}
	}

	out := ExtractResponse{Values: values, Resource: resource}
	if sc, ok := GetSearchContext(c); ok {
		out.Resource = ApplyProjection(resource, Projection(h.model, resourceType, sc))
	}
	return c.JSON(http.StatusOK, out)
}

// ListTenants handles GET /admin/tenants.
func (h *SearchHandler) ListTenants(c echo.Context) error {
	tenants := h.registry.Tenants()
	out := make([]TenantStatus, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, h.tenantStatus(t))
	}
	return c.JSON(http.StatusOK, out)
}

// TenantStatus describes a tenant's published snapshot.
type TenantStatus struct {
	Tenant     string `json:"tenant"`
	Active     bool   `json:"active"`
	Generation uint64 `json:"generation,omitempty"`
	Parameters int    `json:"parameters,omitempty"`
	BuiltAt    string `json:"builtAt,omitempty"`
}

func (h *SearchHandler) tenantStatus(tenantID string) TenantStatus {
	snap := h.registry.Snapshot(tenantID)
	if snap == nil || snap.Tenant() != tenantID {
		return TenantStatus{Tenant: tenantID}
	}
	return TenantStatus{
		Tenant:     tenantID,
		Active:     true,
		Generation: snap.Generation(),
		Parameters: snap.ParameterCount(),
		BuiltAt:    snap.BuiltAt().UTC().Format(time.RFC3339),
	}
}

// ReloadTenant handles POST /admin/tenants/:tenant/reload. A tenant whose
// configuration is gone reports active=false and falls back to the default.
func (h *SearchHandler) ReloadTenant(c echo.Context) error {
	tenantID := c.Param("tenant")
	if err := h.registry.Reload(c.Request().Context(), tenantID); err != nil {
		h.logger.Error().Err(err).Str("tenant", tenantID).Msg("tenant reload failed")
		if errors.Is(err, ErrTenantNotFound) {
			return c.JSON(http.StatusNotFound, OutcomeFromError(err))
		}
		return c.JSON(http.StatusUnprocessableEntity, NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, err.Error()))
	}
	return c.JSON(http.StatusOK, h.tenantStatus(tenantID))
}

// baseURL is the service root the request was addressed to, up to /fhir.
func baseURL(c echo.Context) string {
	req := c.Request()
	scheme := c.Scheme()
	path := req.URL.Path
	if i := strings.Index(path, "/fhir"); i >= 0 {
		path = path[:i+len("/fhir")]
	} else {
		path = ""
	}
	return scheme + "://" + req.Host + path
}
