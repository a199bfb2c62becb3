package fhir

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ehr/fhirsearch/internal/platform/telemetry"
)

// contextKeySearch is the echo.Context key holding the built SearchContext.
const contextKeySearch = "fhir.search_context"

// SearchContextMiddleware builds the SearchContext for the route's
// :resourceType (empty for system-level routes) and stores it on the echo
// context. Routes with :compartment and :id build a compartment search.
// The tenant comes from the "tenant_id" context value set by the tenant
// middleware. A failed build answers with an OperationOutcome and never
// reaches next.
func SearchContextMiddleware(builder *SearchContextBuilder, lenientDefault bool) echo.MiddlewareFunc {
	def := DefaultHandling(lenientDefault)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			params, err := ExtractSearchParams(c)
			if err != nil {
				return c.JSON(http.StatusBadRequest, ErrorOutcome(err.Error()))
			}
			tenantID, _ := c.Get("tenant_id").(string)
			resourceType := c.Param("resourceType")
			lenient := GetHandlingPreference(c, ParsePreferHandling(c.Request().Header.Get("Prefer"), def)) == HandlingLenient

			_, span := telemetry.StartSpan(c.Request().Context(), "fhir.BuildSearchContext",
				attribute.String("fhir.tenant", tenantID),
				attribute.String("fhir.resource_type", resourceType),
				attribute.Bool("fhir.lenient", lenient),
			)
			var sc *SearchContext
			if compartment := c.Param("compartment"); compartment != "" {
				sel := CompartmentSelector{Compartment: compartment, ID: c.Param("id")}
				span.SetAttributes(attribute.String("fhir.compartment", compartment))
				sc, err = builder.BuildCompartment(tenantID, resourceType, sel, params, lenient)
			} else {
				sc, err = builder.Build(tenantID, resourceType, params, lenient)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, IssueType(err))
				span.End()
				return c.JSON(HTTPStatus(err), OutcomeFromError(err))
			}
			span.SetAttributes(
				attribute.Int("fhir.parameters", len(sc.Parameters)),
				attribute.Int("fhir.warnings", len(sc.Warnings)),
			)
			span.End()

			c.Set(contextKeySearch, sc)
			return next(c)
		}
	}
}

// GetSearchContext returns the SearchContext stored by
// SearchContextMiddleware.
func GetSearchContext(c echo.Context) (*SearchContext, bool) {
	sc, ok := c.Get(contextKeySearch).(*SearchContext)
	return sc, ok
}
