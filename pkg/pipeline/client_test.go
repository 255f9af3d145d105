package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/snapdesk/pkg/config"
)

type captured struct {
	auth        string
	contentType string
	query       string
	body        string
}

func fakePipeline(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.auth = r.Header.Get("Authorization")
		c.contentType = r.Header.Get("Content-Type")
		c.query = r.URL.RawQuery
		c.body = string(b)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestSendHeaderToken(t *testing.T) {
	srv, got := fakePipeline(t, http.StatusOK, `{"choices":[{"message":{"content":"Hello NEWLINE world"}}]}`)
	c := NewClient(config.PipelineConfig{URL: srv.URL, Token: "tok", Timeout: time.Second})

	resp, err := c.Send(context.Background(), Request{Mode: config.PayloadJSONPrompt, Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", got.auth)
	require.Equal(t, "application/json", got.contentType)
	require.JSONEq(t, `{"prompt":"hi"}`, got.body)
	require.Empty(t, got.query)

	reply, err := resp.Reply(true)
	require.NoError(t, err)
	require.Equal(t, "Hello **world**\n\n", reply)
}

func TestSendQueryToken(t *testing.T) {
	srv, got := fakePipeline(t, http.StatusOK, `{"response":"ok"}`)
	c := NewClient(config.PipelineConfig{URL: srv.URL + "/task", Token: "a b", TokenPlacement: config.TokenQuery, Timeout: time.Second})

	resp, err := c.Send(context.Background(), Request{Prompt: "what & why"})
	require.NoError(t, err)
	require.Empty(t, got.auth)
	require.Equal(t, "bearer_token=a+b", got.query)
	require.Equal(t, "application/x-www-form-urlencoded", got.contentType)
	require.Equal(t, "prompt=what+%26+why", got.body)

	reply, err := resp.Reply(false)
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
}

func TestSendNon200(t *testing.T) {
	srv, _ := fakePipeline(t, http.StatusBadGateway, "upstream down")
	c := NewClient(config.PipelineConfig{URL: srv.URL, Timeout: time.Second})

	resp, err := c.Send(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.Code)
	require.Equal(t, "upstream down", se.Body)
	require.NotNil(t, resp)
}

func TestSendCreatedIsNotOK(t *testing.T) {
	srv, _ := fakePipeline(t, http.StatusCreated, `{}`)
	c := NewClient(config.PipelineConfig{URL: srv.URL, Timeout: time.Second})

	_, err := c.Send(context.Background(), Request{Prompt: "x"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusCreated, se.Code)
}

func TestSendTransportError(t *testing.T) {
	srv, _ := fakePipeline(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	c := NewClient(config.PipelineConfig{URL: url, Timeout: time.Second})
	_, err := c.Send(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	var se *StatusError
	require.False(t, errors.As(err, &se))
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(config.PipelineConfig{URL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.Send(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
}

func TestPostJSONAcceptsAny2xx(t *testing.T) {
	srv, got := fakePipeline(t, http.StatusAccepted, `{"po_number":"PO-1"}`)
	c := NewClient(config.PipelineConfig{Token: "ignored", Timeout: time.Second})

	resp, err := c.PostJSON(context.Background(), srv.URL+"?bearer_token=t", []byte(`{"a":1}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Empty(t, got.auth)
	require.Equal(t, "bearer_token=t", got.query)

	srv2, _ := fakePipeline(t, http.StatusInternalServerError, `boom`)
	_, err = c.PostJSON(context.Background(), srv2.URL, []byte(`{}`))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestReplyMissingChoices(t *testing.T) {
	resp := &Response{StatusCode: 200, Raw: []byte(`{"reason":"token expired"}`)}
	_, err := resp.Reply(true)
	var mc *MissingChoicesError
	require.True(t, errors.As(err, &mc))
	require.Equal(t, "token expired", mc.Reason)

	resp = &Response{StatusCode: 200, Raw: []byte(`{"something":"else"}`)}
	_, err = resp.Reply(true)
	require.True(t, errors.As(err, &mc))
	require.Empty(t, mc.Reason)

	resp = &Response{StatusCode: 200, Raw: []byte(`{"choices":[]}`)}
	_, err = resp.Reply(true)
	require.True(t, errors.As(err, &mc))
}

func TestReplyUnwrapsSingleElementArray(t *testing.T) {
	resp := &Response{StatusCode: 200, Raw: []byte(`[{"choices":[{"message":{"content":"wrapped"}}]}]`)}
	reply, err := resp.Reply(false)
	require.NoError(t, err)
	require.Equal(t, "wrapped", reply)
}

func TestReplyStructuredResponseField(t *testing.T) {
	resp := &Response{StatusCode: 200, Raw: []byte(`{"response":{"rows":[1,2]}}`)}
	reply, err := resp.Reply(false)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(reply), &v))
	require.Contains(t, v, "rows")
}

func TestReplyInvalidJSON(t *testing.T) {
	resp := &Response{StatusCode: 200, Raw: []byte(`<html>`)}
	_, err := resp.Reply(false)
	require.Error(t, err)
}

func TestPretty(t *testing.T) {
	resp := &Response{Raw: []byte(`{"a":{"b":1}}`)}
	require.Equal(t, "{\n  \"a\": {\n    \"b\": 1\n  }\n}", resp.Pretty())

	resp = &Response{Raw: []byte(`not json`)}
	require.Equal(t, "not json", resp.Pretty())
}
