package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	BlurPolicySteps  = "steps"
	BlurPolicyLegacy = "legacy"

	MaxBlur = 100
)

var recognizedScheme = regexp.MustCompile(`(?i)^(?:(?:f|ht)tps?|file|s3)://`)

// RawRequest carries the image query parameters as they arrived. A nil field
// means the parameter was not sent at all.
type RawRequest struct {
	Source string  `json:"src"`
	Width  *string `json:"w,omitempty"`
	Height *string `json:"h,omitempty"`
	Format *string `json:"f,omitempty"`
	Blur   *string `json:"b,omitempty"`
}

// TransformRequest is the canonical, validated form of an image request.
type TransformRequest struct {
	Source       string `json:"source"`
	Width        *int   `json:"width,omitempty"`
	Height       *int   `json:"height,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	Blur         *int   `json:"blur,omitempty"`
}

func RawRequestFromQuery(q url.Values) RawRequest {
	return RawRequest{
		Source: q.Get("src"),
		Width:  queryValue(q, "w"),
		Height: queryValue(q, "h"),
		Format: queryValue(q, "f"),
		Blur:   queryValue(q, "b"),
	}
}

func queryValue(q url.Values, key string) *string {
	if !q.Has(key) {
		return nil
	}
	v := q.Get(key)
	return &v
}

// Normalize validates raw and returns its canonical form. Rules are applied in
// order and the first violation is returned.
func Normalize(raw RawRequest, blurPolicy string) (TransformRequest, error) {
	source := strings.TrimSpace(raw.Source)
	if source == "" {
		return TransformRequest{}, ErrMissingSource
	}
	if !recognizedScheme.MatchString(source) {
		source = "http:" + source
	}

	req := TransformRequest{Source: source}

	if raw.Blur != nil {
		blur, err := parseBlur(*raw.Blur, blurPolicy)
		if err != nil {
			return TransformRequest{}, err
		}
		req.Blur = &blur
	}

	if raw.Width != nil {
		width, err := parseDimension("w", *raw.Width)
		if err != nil {
			return TransformRequest{}, err
		}
		req.Width = &width
	}
	if raw.Height != nil {
		height, err := parseDimension("h", *raw.Height)
		if err != nil {
			return TransformRequest{}, err
		}
		req.Height = &height
	}

	if raw.Format != nil {
		format := strings.ToLower(strings.TrimSpace(*raw.Format))
		if format == "" {
			return TransformRequest{}, fmt.Errorf("%w: f must not be empty", ErrInvalidTransformParameters)
		}
		req.OutputFormat = format
	}

	return req, nil
}

func parseBlur(value, policy string) (int, error) {
	blur, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: b=%q is not an integer", ErrInvalidBlur, value)
	}

	switch policy {
	case BlurPolicyLegacy:
		// Reproduces the historical check, which rejects exact multiples of 10.
		if blur < 0 || blur%10 == 0 || blur > MaxBlur {
			return 0, fmt.Errorf("%w: blur has to be in steps of 10 and not more then 100", ErrInvalidBlur)
		}
	default:
		if blur < 0 || blur%10 != 0 || blur > MaxBlur {
			return 0, fmt.Errorf("%w: b=%d has to be in steps of 10 and not more than 100", ErrInvalidBlur, blur)
		}
	}
	return blur, nil
}

func parseDimension(field, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s=%q must be a positive integer", ErrInvalidDimension, field, value)
	}
	return n, nil
}

// ValidBlurPolicy reports whether policy names a known blur validation rule.
func ValidBlurPolicy(policy string) bool {
	return policy == BlurPolicySteps || policy == BlurPolicyLegacy
}

// Check repeats the structural checks a deriver must not skip, for requests
// that did not come through Normalize.
func (r TransformRequest) Check() error {
	if strings.TrimSpace(r.Source) == "" {
		return ErrMissingSource
	}
	if r.Width != nil && *r.Width <= 0 {
		return fmt.Errorf("%w: width=%d", ErrInvalidTransformParameters, *r.Width)
	}
	if r.Height != nil && *r.Height <= 0 {
		return fmt.Errorf("%w: height=%d", ErrInvalidTransformParameters, *r.Height)
	}
	if r.Blur != nil && (*r.Blur < 0 || *r.Blur > MaxBlur) {
		return fmt.Errorf("%w: blur=%d", ErrInvalidTransformParameters, *r.Blur)
	}
	return nil
}
