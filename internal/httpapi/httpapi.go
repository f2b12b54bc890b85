// Package httpapi holds the request and response plumbing shared by the
// API Gateway HTTP API handlers.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"

	"github.com/petvida/petvida-service/internal/apperr"
)

var validate = newValidator()

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorResponse is the body returned for failed requests
type ErrorResponse struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Response is the API Gateway proxy response
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func headers() map[string]string {
	return map[string]string{
		"Content-Type":                "application/json",
		"Access-Control-Allow-Origin": "*",
	}
}

// JSON builds a response with a JSON body
func JSON(statusCode int, body any) (Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Error(500, apperr.Internal.String(), "Failed to encode response")
	}
	return Response{
		StatusCode: statusCode,
		Headers:    headers(),
		Body:       string(data),
	}, nil
}

// Error builds an error response
func Error(statusCode int, errorType, description string) (Response, error) {
	body, _ := json.Marshal(ErrorResponse{Type: errorType, Description: description})
	return Response{
		StatusCode: statusCode,
		Headers:    headers(),
		Body:       string(body),
	}, nil
}

// FromError maps a classified error onto its status code and public message
func FromError(err error) (Response, error) {
	kind := apperr.KindOf(err)
	return Error(kind.StatusCode(), kind.String(), apperr.Public(err))
}

// Header returns a request header by name, ignoring case
func Header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// DecodeBody returns the raw request body (handles base64 encoding)
func DecodeBody(request events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if request.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(request.Body)
	}
	return []byte(request.Body), nil
}

// DecodeJSON decodes the request body into dst and validates its struct tags
func DecodeJSON(request events.APIGatewayV2HTTPRequest, dst any) error {
	body, err := DecodeBody(request)
	if err != nil {
		return apperr.New(apperr.InvalidArguments, "httpapi.decode", "Request body is not valid base64")
	}
	if len(body) == 0 {
		return apperr.New(apperr.InvalidArguments, "httpapi.decode", "Request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.New(apperr.InvalidArguments, "httpapi.decode", "Request body is not valid JSON")
	}
	return Validate(dst)
}

// Validate checks v against its validate struct tags
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return apperr.New(apperr.InvalidArguments, "httpapi.validate", "Invalid fields: "+strings.Join(fields, ", "))
	}
	return apperr.Wrap(apperr.InvalidArguments, "httpapi.validate", err)
}

// Claims are the JWT claims forwarded by the API Gateway authorizer
type Claims struct {
	Sub   string
	Email string
	Name  string
}

// ClaimsFrom extracts the caller's JWT claims
func ClaimsFrom(request events.APIGatewayV2HTTPRequest) (Claims, error) {
	authorizer := request.RequestContext.Authorizer
	if authorizer == nil || authorizer.JWT == nil {
		return Claims{}, apperr.New(apperr.Unauthorized, "httpapi.claims", "Missing or invalid authentication")
	}
	claims := authorizer.JWT.Claims
	sub := claims["sub"]
	if sub == "" {
		return Claims{}, apperr.New(apperr.Unauthorized, "httpapi.claims", "Missing or invalid authentication")
	}
	return Claims{
		Sub:   sub,
		Email: claims["email"],
		Name:  claims["name"],
	}, nil
}
