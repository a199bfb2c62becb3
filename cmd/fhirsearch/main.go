package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirsearch/internal/config"
	"github.com/ehr/fhirsearch/internal/platform/db"
	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/resourcemodel"
	"github.com/ehr/fhirsearch/internal/platform/telemetry"
	"github.com/ehr/fhirsearch/internal/platform/tenant"
	"github.com/ehr/fhirsearch/pkg/pagination"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fhirsearch",
		Short:        "Tenant-aware FHIR search parameter resolution",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(paramsCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	source   fhir.TenantSource
	registry *fhir.Registry
	model    *resourcemodel.Model
	builder  *fhir.SearchContextBuilder
	metrics  *telemetry.SearchMetrics
}

// loadApp reads configuration and builds the registry from Postgres when
// DATABASE_URL is set, otherwise from TENANT_CONFIG_DIR.
func loadApp(ctx context.Context, logger *zerolog.Logger, metrics *telemetry.SearchMetrics) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, metrics: metrics, model: resourcemodel.Default()}
	if logger != nil {
		a.logger = *logger
	} else {
		a.logger = newLogger(cfg)
	}

	if cfg.UsesDatabase() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		src := tenant.NewPGSource(pool, cfg.DefaultTenant)
		if err := src.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure tenant schema: %w", err)
		}
		a.pool, a.source = pool, src
	} else {
		a.source = tenant.NewFileSource(cfg.TenantConfigDir)
	}

	a.registry, err = fhir.NewRegistry(ctx, a.source,
		fhir.WithDefaultTenant(cfg.DefaultTenant),
		fhir.WithRegistryLogger(a.logger),
		fhir.WithRegistryMetrics(metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	parser, err := newValueParser(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.builder = fhir.NewSearchContextBuilder(a.registry, a.model,
		fhir.WithValueParser(parser),
		fhir.WithPageDefaults(pagination.Defaults{DefaultSize: cfg.DefaultPageSize, MaxSize: cfg.MaxPageSize}),
		fhir.WithMaxChainDepth(cfg.MaxChainDepth),
		fhir.WithBuilderLogger(a.logger),
		fhir.WithBuilderMetrics(metrics),
	)
	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func newValueParser(cfg *config.Config) (*fhir.ValueParser, error) {
	number, err := decimal.NewFromString(cfg.NumberRangeFactor)
	if err != nil {
		return nil, fmt.Errorf("NUMBER_RANGE_FACTOR: %w", err)
	}
	quantity, err := decimal.NewFromString(cfg.QuantityRangeFactor)
	if err != nil {
		return nil, fmt.Errorf("QUANTITY_RANGE_FACTOR: %w", err)
	}
	return fhir.NewValueParser(
		fhir.WithImplicitRange(fhir.SearchParamNumber, number),
		fhir.WithImplicitRange(fhir.SearchParamQuantity, quantity),
	), nil
}

// quietLogger keeps CLI output to the JSON result, surfacing only errors.
func quietLogger() *zerolog.Logger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.ErrorLevel)
	return &l
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseCmd() *cobra.Command {
	var (
		tenantID     string
		strict       bool
		resourcePath string
	)
	cmd := &cobra.Command{
		Use:   "parse <resourceType|-> <query>",
		Short: "Print the search context a query resolves to",
		Long: "Resolves a search query string for a resource type, or for a system-level\n" +
			"search when the type is \"-\", and prints the resulting search context.\n" +
			"With --resource, the resource in that file is shaped by the query's\n" +
			"_elements/_summary and its search parameter values are extracted.",
		Example: "  fhirsearch parse Observation 'subject:Patient.name=peter&_count=10'\n" +
			"  fhirsearch parse - '_type=Patient,Practitioner&name=smith'",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, quietLogger(), nil)
			if err != nil {
				return err
			}
			defer a.close()

			resourceType := args[0]
			if resourceType == "-" {
				resourceType = ""
			}
			params, err := fhir.ParseQuery(strings.TrimPrefix(args[1], "?"))
			if err != nil {
				return err
			}
			if tenantID == "" {
				tenantID = a.cfg.DefaultTenant
			}
			lenient := a.cfg.SearchLenient
			if cmd.Flags().Changed("strict") {
				lenient = !strict
			}

			sc, err := a.builder.Build(tenantID, resourceType, params, lenient)
			if err != nil {
				_ = printJSON(cmd.OutOrStdout(), fhir.OutcomeFromError(err))
				return err
			}
			out := map[string]any{
				"searchContext": sc,
				"self":          fhir.BuildSelfURI("", resourceType, sc),
			}
			if o := fhir.OutcomeFromWarnings(sc.Warnings); o != nil {
				out["outcome"] = o
			}
			if resourcePath != "" {
				shaped, err := shapeResource(a, tenantID, resourceType, sc, resourcePath)
				if err != nil {
					return err
				}
				out["resource"] = shaped
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to resolve against (default DEFAULT_TENANT)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on the first invalid parameter instead of skipping it")
	cmd.Flags().StringVar(&resourcePath, "resource", "", "JSON resource file to extract values from and project")
	return cmd
}

func shapeResource(a *app, tenantID, resourceType string, sc *fhir.SearchContext, path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resource map[string]any
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	rt, _ := resource["resourceType"].(string)
	if resourceType != "" && rt != resourceType {
		return nil, fmt.Errorf("%s holds a %s, not a %s", path, rt, resourceType)
	}

	values, err := fhir.NewExtractor().Extract(data, a.registry.ParametersFor(tenantID, rt))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"values":    values,
		"projected": fhir.ApplyProjection(resource, fhir.Projection(a.model, rt, sc)),
	}, nil
}

func paramsCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "params <resourceType>",
		Short: "List the search parameters a tenant exposes for a resource type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), quietLogger(), nil)
			if err != nil {
				return err
			}
			defer a.close()

			if tenantID == "" {
				tenantID = a.cfg.DefaultTenant
			}
			resourceType := args[0]
			if resourceType != fhir.ResourceBase && !a.model.IsResourceType(resourceType) {
				return fmt.Errorf("%q is not a resource type", resourceType)
			}
			w := cmd.OutOrStdout()
			for _, def := range a.registry.ParametersFor(tenantID, resourceType) {
				line := fmt.Sprintf("%-28s %-10s %s", def.Code, def.Type, def.CanonicalURL())
				if len(def.Target) > 0 {
					line += " -> " + strings.Join(def.Target, ",")
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to list (default DEFAULT_TENANT)")
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect tenant search configuration",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants with their own configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), quietLogger(), nil)
			if err != nil {
				return err
			}
			defer a.close()

			w := cmd.OutOrStdout()
			for _, t := range a.registry.Tenants() {
				snap := a.registry.Snapshot(t)
				fmt.Fprintf(w, "%-20s generation=%d parameters=%d\n", t, snap.Generation(), snap.ParameterCount())
			}
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <tenant>",
		Short: "Check a tenant's filter rules and extension search parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), quietLogger(), nil)
			if err != nil {
				return err
			}
			defer a.close()

			tc, err := a.source.TenantConfig(cmd.Context(), args[0])
			if errors.Is(err, fhir.ErrTenantNotFound) {
				return fmt.Errorf("tenant %q has no configuration", args[0])
			}
			if err != nil {
				return err
			}
			problems := fhir.ValidateTenantConfig(tc, a.model)
			w := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(w, "  -", p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("tenant %q: %d problem(s)", args[0], len(problems))
			}
			fmt.Fprintf(w, "tenant %q: %d filter rule(s), %d extension parameter(s), ok\n",
				args[0], len(tc.FilterRules), len(tc.SearchParameters))
			return nil
		},
	}

	cmd.AddCommand(listCmd, validateCmd)
	return cmd
}
