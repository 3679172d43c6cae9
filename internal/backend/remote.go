package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/labels"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
)

const (
	DefaultRemoteTimeout = 30 * time.Second
	DefaultRetryWait     = time.Second

	predictPath = "/api/predict"
	healthPath  = "/health"
	uploadsPath = "/static/uploads/"

	defaultFilename = "upload"
	genericMessage  = "Prediction failed"
)

var extensionPattern = regexp.MustCompile(`\.(\w+)$`)

// RemoteOptions tunes the HTTP transport. Retries apply only to transport
// failures and 5xx responses.
type RemoteOptions struct {
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
	Client    *http.Client
}

// Remote sends encoded images to a prediction server and returns its
// already resolved answer.
type Remote struct {
	endpoint string
	client   *resty.Client
}

// PredictResponse is the success body of POST /api/predict
type PredictResponse struct {
	Prediction string   `json:"prediction"`
	Confidence *float64 `json:"confidence"`
	Mask       *string  `json:"mask"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewRemote(endpoint string, opts RemoteOptions) *Remote {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRemoteTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var client *resty.Client
	if opts.Client != nil {
		client = resty.NewWithClient(opts.Client)
	} else {
		client = resty.New()
	}
	client.SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "leaf-inspector-go/1.0").
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait * 8).
		SetRetryResetReaders(true).
		AddRetryCondition(retryable).
		AddRetryHook(func(resp *resty.Response, err error) {
			entry := logger.WithError(err)
			if resp != nil && resp.Request != nil {
				entry = entry.WithField("attempt", resp.Request.Attempt)
			}
			if err == nil && resp != nil {
				entry = entry.WithField("status", resp.StatusCode())
			}
			entry.Warn("Retrying prediction server request")
		})

	return &Remote{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		client:   client,
	}
}

// retryable selects transport failures and 5xx responses; 4xx answers are final
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
}

func (r *Remote) Kind() Kind { return KindRemote }

// InputSize is 0: the server decodes and preprocesses itself
func (r *Remote) InputSize() int { return 0 }

func (r *Remote) Endpoint() string { return r.endpoint }

// Infer uploads the encoded image as multipart field "file"
func (r *Remote) Infer(ctx context.Context, in Input) (*Output, error) {
	if len(in.Encoded) == 0 {
		return nil, apperrors.NewInferenceError(apperrors.InvalidInput, "remote inference requires encoded image bytes", nil)
	}

	filename := in.Filename
	if filename == "" {
		filename = defaultFilename
	}
	contentType := ContentTypeFor(filename)

	resp, err := r.do(func() (*resty.Response, error) {
		return r.client.R().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			SetMultipartField("file", filename, contentType, bytes.NewReader(in.Encoded)).
			Post(r.endpoint + predictPath)
	})
	if err != nil {
		return nil, err
	}

	var body PredictResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, apperrors.NewInferenceError(apperrors.BadResponse, "response is not valid JSON", err)
	}
	if strings.TrimSpace(body.Prediction) == "" {
		return nil, apperrors.NewInferenceError(apperrors.BadResponse, "response has no prediction", nil)
	}
	if body.Confidence == nil {
		return nil, apperrors.NewInferenceError(apperrors.BadResponse, "response has no confidence", nil)
	}

	out := &Output{
		Prediction: &labels.Prediction{Label: body.Prediction, Confidence: *body.Confidence, Index: -1},
	}
	if body.Mask != nil {
		out.Mask = *body.Mask
	}

	logger.WithFields(logrus.Fields{
		"endpoint":   r.endpoint,
		"prediction": body.Prediction,
		"has_mask":   out.HasMask(),
	}).Debug("Remote prediction received")

	return out, nil
}

// MaskURL resolves a mask reference into its static resource URL
func (r *Remote) MaskURL(mask string) string {
	return r.endpoint + uploadsPath + url.PathEscape(mask)
}

// FetchMask downloads the mask image referenced by a prediction
func (r *Remote) FetchMask(ctx context.Context, mask string) ([]byte, error) {
	if mask == "" {
		return nil, apperrors.NewInferenceError(apperrors.InvalidInput, "empty mask reference", nil)
	}

	resp, err := r.do(func() (*resty.Response, error) {
		return r.client.R().SetContext(ctx).Get(r.MaskURL(mask))
	})
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Health checks GET /health for {"status":"ok"}
func (r *Remote) Health(ctx context.Context) error {
	resp, err := r.do(func() (*resty.Response, error) {
		return r.client.R().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			Get(r.endpoint + healthPath)
	})
	if err != nil {
		return err
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return apperrors.NewInferenceError(apperrors.BadResponse, "health response is not valid JSON", err)
	}
	if body.Status != "ok" {
		return apperrors.NewInferenceError(apperrors.BadResponse, fmt.Sprintf("unexpected health status %q", body.Status), nil)
	}
	return nil
}

// do sends one request through the client's retry policy and maps the
// final outcome onto the inference error kinds
func (r *Remote) do(send func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := send()
	if err != nil {
		return nil, apperrors.NewInferenceError(apperrors.Unreachable, "could not reach prediction server", err)
	}
	if !resp.IsSuccess() {
		return nil, rejected(resp)
	}
	return resp, nil
}

func rejected(resp *resty.Response) error {
	message := genericMessage
	var body errorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		message = body.Error
	}

	err := apperrors.NewInferenceError(apperrors.ServerRejected, message, nil)
	err.StatusCode = resp.StatusCode()
	return err
}

// ContentTypeFor derives image/<ext> from a filename, or "image" when it
// has no extension.
func ContentTypeFor(filename string) string {
	if m := extensionPattern.FindStringSubmatch(filename); m != nil {
		return "image/" + m[1]
	}
	return "image"
}
