package inference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gzhole/aidetect/internal/detector"
)

// Datatypes used by the detector models.
const (
	DatatypeBytes = "BYTES"
	DatatypeInt64 = "INT64"
	DatatypeFP32  = "FP32"
)

// Tensor names exchanged with the tokenizer and classifier.
const (
	TensorText          = "text"
	TensorInputIDs      = "input_ids"
	TensorAttentionMask = "attention_mask"
	TensorLogits        = "logits"
)

// RequestTensor is one named input of an infer request. Data is flattened in
// row-major order.
type RequestTensor struct {
	Name     string  `json:"name"`
	Shape    []int64 `json:"shape"`
	Datatype string  `json:"datatype"`
	Data     any     `json:"data"`
}

// RequestOutput asks the server for a specific output tensor.
type RequestOutput struct {
	Name string `json:"name"`
}

// InferRequest is the body of POST /v2/models/{name}/infer.
type InferRequest struct {
	ID         string          `json:"id,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Inputs     []RequestTensor `json:"inputs"`
	Outputs    []RequestOutput `json:"outputs,omitempty"`
}

// ResponseTensor is one named output. Data stays raw until the caller knows
// which Go type to decode it into.
type ResponseTensor struct {
	Name     string          `json:"name"`
	Shape    []int64         `json:"shape"`
	Datatype string          `json:"datatype"`
	Data     json.RawMessage `json:"data"`
}

// InferResponse is the body returned by a successful infer call.
type InferResponse struct {
	ModelName    string           `json:"model_name"`
	ModelVersion string           `json:"model_version,omitempty"`
	ID           string           `json:"id,omitempty"`
	Outputs      []ResponseTensor `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Output returns the named output tensor.
func (r *InferResponse) Output(name string) (ResponseTensor, error) {
	for _, o := range r.Outputs {
		if o.Name == name {
			return o, nil
		}
	}
	return ResponseTensor{}, fmt.Errorf("response from %s has no %q output", r.ModelName, name)
}

// Int64s decodes the tensor data as integers.
func (t ResponseTensor) Int64s() ([]int64, error) {
	var v []int64
	if err := json.Unmarshal(t.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s as %s: %w", t.Name, DatatypeInt64, err)
	}
	return v, nil
}

// Float64s decodes the tensor data as floating point values.
func (t ResponseTensor) Float64s() ([]float64, error) {
	var v []float64
	if err := json.Unmarshal(t.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s as %s: %w", t.Name, DatatypeFP32, err)
	}
	return v, nil
}

type tokenizer struct {
	client *Client
	model  string
}

// Encode asks the tokenizer model to truncate to maxLength itself. Servers that
// ignore the parameters still get their output cut here, keeping the final id.
func (t *tokenizer) Encode(ctx context.Context, text string, maxLength int) ([]int64, error) {
	var params map[string]any
	if maxLength > 0 {
		params = map[string]any{"truncation": true, "max_length": maxLength}
	}
	resp, err := t.client.Infer(ctx, t.model, InferRequest{
		Parameters: params,
		Inputs: []RequestTensor{{
			Name:     TensorText,
			Shape:    []int64{1},
			Datatype: DatatypeBytes,
			Data:     []string{text},
		}},
		Outputs: []RequestOutput{{Name: TensorInputIDs}},
	})
	if err != nil {
		return nil, err
	}
	out, err := resp.Output(TensorInputIDs)
	if err != nil {
		return nil, err
	}
	ids, err := out.Int64s()
	if err != nil {
		return nil, err
	}
	return detector.TruncateIDs(ids, maxLength), nil
}

type classifier struct {
	client *Client
	model  string
}

func (c *classifier) Logits(ctx context.Context, ids []int64) ([]float64, error) {
	n := int64(len(ids))
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}

	resp, err := c.client.Infer(ctx, c.model, InferRequest{
		Inputs: []RequestTensor{
			{Name: TensorInputIDs, Shape: []int64{1, n}, Datatype: DatatypeInt64, Data: ids},
			{Name: TensorAttentionMask, Shape: []int64{1, n}, Datatype: DatatypeInt64, Data: mask},
		},
		Outputs: []RequestOutput{{Name: TensorLogits}},
	})
	if err != nil {
		return nil, err
	}
	out, err := resp.Output(TensorLogits)
	if err != nil {
		return nil, err
	}
	logits, err := out.Float64s()
	if err != nil {
		return nil, err
	}
	// Batch of one: the first row holds the class logits.
	if len(out.Shape) == 2 && out.Shape[0] == 1 && int(out.Shape[1]) <= len(logits) {
		logits = logits[:out.Shape[1]]
	}
	return logits, nil
}
