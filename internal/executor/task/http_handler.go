package task

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// httpSpec is the decoded shape of an HTTP task's Config, built with
// mapstructure the way the teacher's config layer decodes loosely-typed
// maps into structs.
type httpSpec struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`
}

// HTTPHandler invokes a remote HTTP endpoint via resty (SERVICE_CALL step
// type), grounded on the teacher's "http" node-type branch.
type HTTPHandler struct {
	client *resty.Client
}

// NewHTTPHandler builds an HTTPHandler sharing a single resty.Client (and
// its connection pool) across invocations.
func NewHTTPHandler(client *resty.Client) *HTTPHandler {
	if client == nil {
		client = resty.New()
	}
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Name() string { return "http" }

func decodeHTTPSpec(cfg map[string]domain.Value) (httpSpec, error) {
	raw := map[string]interface{}{}
	for k, v := range cfg {
		raw[k] = valueToInterface(v)
	}
	var spec httpSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &spec})
	if err != nil {
		return spec, domain.Wrap(domain.KindConfiguration, err, "build http config decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return spec, domain.Wrap(domain.KindConfiguration, err, "decode http config")
	}
	return spec, nil
}

func (h *HTTPHandler) ValidateConfig(cfg map[string]domain.Value) error {
	spec, err := decodeHTTPSpec(cfg)
	if err != nil {
		return err
	}
	if spec.URL == "" {
		return domain.NewError(domain.KindConfiguration, "http task requires a url")
	}
	if spec.Method == "" {
		spec.Method = "GET"
	}
	return nil
}

func (h *HTTPHandler) Run(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (map[string]domain.Value, error) {
	spec, err := decodeHTTPSpec(cfg)
	if err != nil {
		return nil, err
	}
	method := spec.Method
	if method == "" {
		method = "GET"
	}

	req := h.client.R().SetContext(ctx)
	for k, v := range spec.Headers {
		req.SetHeader(k, v)
	}
	if spec.Body != "" {
		req.SetBody(spec.Body)
	}

	resp, err := req.Execute(method, spec.URL)
	if err != nil {
		return nil, domain.Wrap(domain.KindNetwork, err, "http task call to %s", spec.URL)
	}
	if resp.IsError() {
		return nil, domain.NewError(domain.KindNetwork, "http task received status %d from %s", resp.StatusCode(), spec.URL).
			WithRetryable(resp.StatusCode() >= 500)
	}

	return map[string]domain.Value{
		"statusCode": domain.NewInt(int64(resp.StatusCode())),
		"body":       domain.NewString(string(resp.Body())),
	}, nil
}

func valueToInterface(v domain.Value) interface{} {
	switch v.Kind {
	case domain.KindBool:
		return v.Bool
	case domain.KindInt, domain.KindLong:
		return v.Int
	case domain.KindDouble:
		return v.Double
	case domain.KindString:
		return v.Str
	case domain.KindDate, domain.KindDateTime:
		return v.Time
	case domain.KindArray:
		out := make([]interface{}, len(v.Array))
		for i, item := range v.Array {
			out[i] = valueToInterface(item)
		}
		return out
	case domain.KindObject:
		out := make(map[string]interface{}, len(v.Object))
		for k, item := range v.Object {
			out[k] = valueToInterface(item)
		}
		return out
	default:
		return nil
	}
}
