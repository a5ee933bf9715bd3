// Package openapi builds the OpenAPI document for the HTTP API from the same
// route table the router is built from, so the document cannot drift from
// the served routes.
package openapi

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
)

// Security scheme names.
const (
	SchemeAPIKey    = "apiKey"
	SchemeTimestamp = "apiKeyTimestamp"
	SchemeBearer    = "bearerAuth"
	SchemeBasic     = "basicAuth"
)

// Operation describes one route.
type Operation struct {
	Method  string
	Path    string // chi pattern, e.g. /api/v1/apikey/{id}
	Summary string
	Tag     string
	Policy  guard.Policy
	// Request and Response are zero values of the body types. Nil means no
	// body.
	Request  interface{}
	Response interface{}
	// Status is the success status. Zero means 200.
	Status int
}

// Info is the document header.
type Info struct {
	Title       string
	Description string
	Version     string
	BaseURL     string
}

// Generate builds an OpenAPI 3.1 document for ops. Body schemas are derived
// from the Go types by reflection and registered as components by type name.
func Generate(info Info, ops []Operation) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       info.Title,
			Description: info.Description,
			Version:     info.Version,
		},
	}
	if info.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: info.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = securitySchemes()
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	if _, err := schemaFor(doc, model.ErrorResponse{}); err != nil {
		return nil, err
	}

	for _, op := range ops {
		if err := addOperation(doc, op); err != nil {
			return nil, fmt.Errorf("%s %s: %w", op.Method, op.Path, err)
		}
	}
	return doc, nil
}

func securitySchemes() openapi3.SecuritySchemes {
	return openapi3.SecuritySchemes{
		SchemeAPIKey: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "header",
				Name:        "x-api-key",
				Description: "Public key and sealed request payload, joined by a colon.",
			},
		},
		SchemeTimestamp: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "header",
				Name:        "x-timestamp",
				Description: "Request time in Unix milliseconds. Must equal the sealed timestamp.",
			},
		},
		SchemeBearer: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
		SchemeBasic: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:   "http",
				Scheme: "basic",
			},
		},
	}
}

// Security returns the requirements a policy imposes. All schemes in the
// single requirement must be satisfied together.
func Security(p guard.Policy) openapi3.SecurityRequirements {
	req := openapi3.SecurityRequirement{}
	if p.UsesAPIKey() {
		req[SchemeAPIKey] = []string{}
		req[SchemeTimestamp] = []string{}
	}
	if p.UsesBasic() {
		req[SchemeBasic] = []string{}
	}
	if _, ok := p.Bearer(); ok {
		req[SchemeBearer] = []string{}
	}
	if len(req) == 0 {
		return openapi3.SecurityRequirements{}
	}
	return openapi3.SecurityRequirements{req}
}

func addOperation(doc *openapi3.T, op Operation) error {
	status := op.Status
	if status == 0 {
		status = http.StatusOK
	}

	var respRef *openapi3.SchemaRef
	if op.Response != nil {
		ref, err := schemaFor(doc, op.Response)
		if err != nil {
			return err
		}
		respRef = ref
	}

	o := &openapi3.Operation{
		OperationID: operationID(op.Method, op.Path),
		Summary:     op.Summary,
		Responses:   newResponses(strconv.Itoa(status), http.StatusText(status), respRef),
		Extensions: map[string]interface{}{
			"x-policy": op.Policy.Name,
		},
	}
	if op.Tag != "" {
		o.Tags = []string{op.Tag}
	}
	if perms := op.Policy.Permissions(); len(perms) > 0 {
		o.Extensions["x-permissions"] = perms
	}
	security := Security(op.Policy)
	o.Security = &security

	for _, name := range pathParams(op.Path) {
		o.AddParameter(openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()))
	}

	if op.Request != nil {
		ref, err := schemaFor(doc, op.Request)
		if err != nil {
			return err
		}
		o.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(ref),
		}
	}

	doc.AddOperation(op.Path, op.Method, o)
	return nil
}

// schemaFor generates the schema of v's type. Named struct types are
// registered once as components and referenced.
func schemaFor(doc *openapi3.T, v interface{}) (*openapi3.SchemaRef, error) {
	ref, err := openapi3gen.NewSchemaRefForValue(v, openapi3.Schemas{})
	if err != nil {
		return nil, fmt.Errorf("generate schema for %T: %w", v, err)
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return ref, nil
	}
	name := t.Name()
	if _, ok := doc.Components.Schemas[name]; !ok {
		doc.Components.Schemas[name] = &openapi3.SchemaRef{Value: ref.Value}
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, ref.Value), nil
}

// newResponses returns the success response plus the standard error
// responses, all of which use the ErrorResponse envelope.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	successDesc := description
	success := &openapi3.Response{Description: &successDesc}
	if schema != nil {
		success.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses := openapi3.NewResponses(openapi3.WithName(statusCode, success))

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, e := range []struct {
		code string
		desc string
	}{
		{"400", "Bad request"},
		{"401", "Unauthorized"},
		{"403", "Forbidden"},
		{"404", "Not found"},
		{"429", "Too many requests"},
		{"500", "Internal server error"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// pathParams returns the {name} segments of a chi pattern in order.
func pathParams(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			// chi allows {name:regexp}.
			name, _, _ = strings.Cut(name, ":")
			out = append(out, name)
		}
	}
	return out
}

// operationID derives a stable camelCase ID such as patchApikeyIdReset.
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.Trim(seg, "{}")
		seg, _, _ = strings.Cut(seg, ":")
		if seg == "" || seg == "api" || seg == "v1" {
			continue
		}
		for _, word := range strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' || r == '.' }) {
			b.WriteString(capitalize(word))
		}
	}
	return b.String()
}

// capitalize returns a string with its first character uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
