package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		code Code
	}{
		{"validation", Validation("to", "required"), http.StatusBadRequest, CodeValidation},
		{"configuration", Configuration("TWILIO_AUTH_TOKEN"), http.StatusInternalServerError, CodeConfiguration},
		{"forbidden", Forbidden("host"), http.StatusForbidden, CodeForbidden},
		{"provider with status", &ProviderError{StatusCode: 422, Message: "bad"}, 422, CodeProvider},
		{"provider without status", &ProviderError{Message: "boom"}, http.StatusBadGateway, CodeProvider},
		{"wrapped validation", fmt.Errorf("initiate: %w", Validation("to", "required")), http.StatusBadRequest, CodeValidation},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
			if got := CodeOf(tc.err); got != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, got)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NotFound("call", "CA1")) {
		t.Fatalf("expected NotFoundError to be not found")
	}
	if !IsNotFound(fmt.Errorf("wrap: %w", &ProviderError{StatusCode: 404})) {
		t.Fatalf("expected provider 404 to be not found")
	}
	if IsNotFound(&ProviderError{StatusCode: 500}) {
		t.Fatalf("provider 500 is not a not-found")
	}
}
