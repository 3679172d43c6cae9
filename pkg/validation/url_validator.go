package validation

import (
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
)

// URLValidator checks image URLs submitted for prediction and remote
// inference endpoints
type URLValidator struct {
	schemes []string
	hosts   []string
}

// NewURLValidator accepts http and https URLs on any host
func NewURLValidator() *URLValidator {
	return &URLValidator{schemes: []string{"http", "https"}}
}

// NewURLValidatorWithOptions restricts schemes and, when hosts is not
// empty, the host[:port] a URL may point at
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{schemes: schemes, hosts: hosts}
}

// ValidateImageURL checks a URL submitted to /api/predict/url
func (v *URLValidator) ValidateImageURL(imageURL string) error {
	_, err := v.parse(imageURL)
	return err
}

// ValidateEndpoint checks a remote inference server base URL such as
// http://192.168.1.10:5000. Request paths are appended to it, so a query
// or fragment is rejected.
func (v *URLValidator) ValidateEndpoint(endpoint string) error {
	u, err := v.parse(endpoint)
	if err != nil {
		return err
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return apperrors.NewValidationError("Endpoint must not carry a query or fragment", nil)
	}
	return nil
}

func (v *URLValidator) parse(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.NewValidationError("URL cannot be empty", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid URL format", err)
	}
	if !slices.Contains(v.schemes, strings.ToLower(u.Scheme)) {
		return nil, apperrors.NewValidationError("URL scheme not allowed", nil)
	}
	if u.Host == "" {
		return nil, apperrors.NewValidationError("URL must have a valid host", nil)
	}
	if len(v.hosts) > 0 && !slices.Contains(v.hosts, u.Host) {
		return nil, apperrors.NewValidationError("URL host not allowed", nil)
	}
	return u, nil
}
