package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Response is the raw answer of a pipeline call.
type Response struct {
	StatusCode int
	Raw        []byte
}

// JSON decodes the body. Triggered tasks often wrap their single output document
// in a one-element array, which is unwrapped here.
func (r *Response) JSON() (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(r.Raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "decode pipeline response")
	}
	if arr, ok := v.([]any); ok && len(arr) == 1 {
		return arr[0], nil
	}
	return v, nil
}

// Reply extracts the assistant text. It looks at choices[0].message.content first,
// then a top-level response field. When newlineMarker is set the choices content
// goes through ApplyNewlineMarker.
func (r *Response) Reply(newlineMarker bool) (string, error) {
	v, err := r.JSON()
	if err != nil {
		return "", err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", &MissingChoicesError{}
	}

	if content, ok := choiceContent(obj); ok {
		if newlineMarker {
			content = ApplyNewlineMarker(content)
		}
		return content, nil
	}

	if resp, ok := obj["response"]; ok && resp != nil {
		if s, ok := resp.(string); ok {
			return s, nil
		}
		b, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "encode response field")
		}
		return string(b), nil
	}

	return "", &MissingChoicesError{Reason: stringField(obj, "reason")}
}

// Pretty returns the body indented with two spaces, or the raw text when it is not JSON.
func (r *Response) Pretty() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(r.Raw), "", "  "); err != nil {
		return string(r.Raw)
	}
	return buf.String()
}

// ApplyNewlineMarker turns the pipeline's "NEWLINE " separators into bold breaks
// and closes the trailing bold span.
func ApplyNewlineMarker(content string) string {
	return strings.ReplaceAll(content, "NEWLINE ", "**") + "**\n\n"
}

func choiceContent(obj map[string]any) (string, bool) {
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := msg["content"].(string)
	return content, ok
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
