package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/pkg/version"
)

const (
	schemeBearer = "bearerAuth"
	schemeBasic  = "clientBasic"
	schemeCookie = "sessionCookie"
)

// buildOpenAPI describes the HTTP surface served by the router
func buildOpenAPI(ctx context.Context, cookieName string) (*openapi3.T, error) {
	str := openapi3.NewStringSchema
	errSchema := openapi3.NewObjectSchema().
		WithProperty("error", str()).
		WithProperty("error_description", str()).
		WithRequired([]string{"error"})
	userSchema := openapi3.NewObjectSchema().
		WithProperty("id", str()).
		WithProperty("email", str()).
		WithProperty("name", str()).
		WithProperty("avatar_url", str()).
		WithRequired([]string{"id", "email", "name"})
	tokenSchema := openapi3.NewObjectSchema().
		WithProperty("access_token", str()).
		WithProperty("refresh_token", str()).
		WithProperty("expires_in", openapi3.NewIntegerSchema()).
		WithProperty("token_type", str()).
		WithProperty("scope", str()).
		WithRequired([]string{"access_token", "expires_in", "token_type"})
	validationSchema := openapi3.NewObjectSchema().
		WithProperty("valid", openapi3.NewBoolSchema()).
		WithProperty("user", userSchema).
		WithProperty("expires_in", openapi3.NewIntegerSchema()).
		WithProperty("should_refresh", openapi3.NewBoolSchema()).
		WithProperty("client_id", str()).
		WithProperty("scope", str())
	consentSchema := openapi3.NewObjectSchema().
		WithProperty("client_id", str()).
		WithProperty("client_name", str()).
		WithProperty("redirect_uri", str()).
		WithProperty("scope", str()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(str())).
		WithProperty("state", str()).
		WithProperty("consent_token", str())
	anyObject := openapi3.NewObjectSchema()

	ok := func(desc string, schema *openapi3.Schema) *openapi3.Response {
		return openapi3.NewResponse().WithDescription(desc).WithJSONSchema(schema)
	}
	fail := func(desc string) *openapi3.Response {
		return openapi3.NewResponse().WithDescription(desc).WithJSONSchema(errSchema)
	}
	op := func(id, summary string, security string) *openapi3.Operation {
		o := openapi3.NewOperation()
		o.OperationID = id
		o.Summary = summary
		o.Tags = []string{"oauth"}
		if security != "" {
			o.Security = &openapi3.SecurityRequirements{{security: []string{}}}
		}
		return o
	}
	query := func(o *openapi3.Operation, name string, required bool) {
		o.AddParameter(openapi3.NewQueryParameter(name).WithRequired(required).WithSchema(str()))
	}
	form := func(o *openapi3.Operation, props map[string]bool) {
		s := openapi3.NewObjectSchema()
		var req []string
		for name, required := range props {
			s.WithProperty(name, str())
			if required {
				req = append(req, name)
			}
		}
		if len(req) > 0 {
			s.WithRequired(req)
		}
		o.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithFormDataSchema(s)}
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       cnst.AppName,
			Description: "OAuth 2.0 authorization code service",
			Version:     version.Get(),
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				schemeBearer: &openapi3.SecuritySchemeRef{Value: openapi3.NewSecurityScheme().WithType("http").WithScheme("bearer")},
				schemeBasic:  &openapi3.SecuritySchemeRef{Value: openapi3.NewSecurityScheme().WithType("http").WithScheme("basic")},
				schemeCookie: &openapi3.SecuritySchemeRef{Value: openapi3.NewSecurityScheme().WithType("apiKey").WithIn("cookie").WithName(cookieName)},
			},
		},
	}

	health := op("healthCheck", "Liveness probe", "")
	health.AddResponse(http.StatusOK, ok("Service is up", anyObject))
	doc.AddOperation("/health_check", http.MethodGet, health)

	meta := op("serverMetadata", "Authorization server metadata (RFC 8414)", "")
	meta.AddResponse(http.StatusOK, ok("Metadata document", anyObject))
	doc.AddOperation("/.well-known/oauth-authorization-server", http.MethodGet, meta)

	authorize := op("authorizeConsent", "Describe the consent requested by a client", schemeCookie)
	for _, name := range []string{"response_type", "client_id", "redirect_uri"} {
		query(authorize, name, true)
	}
	query(authorize, "scope", false)
	query(authorize, "state", false)
	authorize.AddResponse(http.StatusOK, ok("Consent descriptor", consentSchema))
	authorize.AddResponse(http.StatusFound, openapi3.NewResponse().WithDescription("Error redirect to the client"))
	authorize.AddResponse(http.StatusBadRequest, fail("Malformed request or untrusted redirect"))
	authorize.AddResponse(http.StatusUnauthorized, fail("No end-user session"))
	authorize.AddResponse(http.StatusTooManyRequests, fail("Rate limited"))
	doc.AddOperation("/oauth/authorize", http.MethodGet, authorize)

	decide := op("authorizeDecision", "Grant or deny the consent", schemeCookie)
	form(decide, map[string]bool{
		"client_id": true, "redirect_uri": true, "scope": false, "state": false,
		"action": true, "consent_token": true,
	})
	decide.AddResponse(http.StatusFound, openapi3.NewResponse().WithDescription("Redirect carrying code or error"))
	decide.AddResponse(http.StatusBadRequest, fail("Malformed request or untrusted redirect"))
	decide.AddResponse(http.StatusUnauthorized, fail("No end-user session"))
	doc.AddOperation("/oauth/authorize", http.MethodPost, decide)

	tokenOp := op("token", "Exchange an authorization code", schemeBasic)
	form(tokenOp, map[string]bool{
		"grant_type": true, "code": true, "redirect_uri": true, "client_id": false, "client_secret": false,
	})
	tokenOp.AddResponse(http.StatusOK, ok("Issued token", tokenSchema))
	tokenOp.AddResponse(http.StatusBadRequest, fail("invalid_request, invalid_grant or unsupported_grant_type"))
	tokenOp.AddResponse(http.StatusUnauthorized, fail("invalid_client"))
	doc.AddOperation("/oauth/token", http.MethodPost, tokenOp)

	validate := op("validate", "Validate an access token", schemeBearer)
	validate.AddResponse(http.StatusOK, ok("Token is valid", validationSchema))
	validate.AddResponse(http.StatusUnauthorized, fail("Missing or invalid token"))
	doc.AddOperation("/oauth/validate", http.MethodPost, validate)

	userinfo := op("userinfo", "Profile of the token owner", schemeBearer)
	userinfo.AddResponse(http.StatusOK, ok("User profile", userSchema))
	userinfo.AddResponse(http.StatusUnauthorized, fail("Missing or invalid token"))
	doc.AddOperation("/oauth/userinfo", http.MethodGet, userinfo)

	revoke := op("revoke", "Revoke a token or all tokens of a user", schemeBasic)
	form(revoke, map[string]bool{"token": false, "user_id": false})
	revoke.AddResponse(http.StatusOK, ok("Revoked", anyObject))
	revoke.AddResponse(http.StatusBadRequest, fail("Neither token nor user_id given"))
	revoke.AddResponse(http.StatusUnauthorized, fail("invalid_client"))
	doc.AddOperation("/oauth/revoke", http.MethodPost, revoke)

	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}
