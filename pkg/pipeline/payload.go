package pipeline

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"

	"github.com/go-go-golems/snapdesk/pkg/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior exchange in the conversation, in send order.
type Turn struct {
	Role    string
	Content string
}

// Request describes a single pipeline call for a page.
type Request struct {
	Mode         config.PayloadMode
	Prompt       string
	History      []Turn
	SessionID    string
	UserRole     string
	DeploymentID string
}

// BuildRequest assembles the request a page sends for prompt given its stored history.
func BuildRequest(page config.PageConfig, prompt string, history []Turn, sessionID string) Request {
	return Request{
		Mode:         page.Payload,
		Prompt:       prompt,
		History:      history,
		SessionID:    sessionID,
		UserRole:     page.UserRole,
		DeploymentID: page.DeploymentID,
	}
}

type promptBody struct {
	Prompt string `json:"prompt"`
}

type roleMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesBody struct {
	Messages []roleMessage `json:"messages"`
}

type slMessage struct {
	SLRole  string `json:"sl_role"`
	Content string `json:"content"`
}

type slMessagesBody struct {
	Messages     []slMessage `json:"messages"`
	SessionID    string      `json:"session_id"`
	DeploymentID string      `json:"deployment_id"`
}

// Encode returns the request body and its content type.
// Message-history modes send History followed by Prompt as the latest user turn.
func (r Request) Encode() ([]byte, string, error) {
	switch r.Mode {
	case config.PayloadFormPrompt, "":
		v := url.Values{}
		v.Set("prompt", r.Prompt)
		return []byte(v.Encode()), "application/x-www-form-urlencoded", nil

	case config.PayloadJSONPrompt:
		return marshal(promptBody{Prompt: r.Prompt})

	case config.PayloadJSONMessages:
		userRole := r.UserRole
		if userRole == "" {
			userRole = "USER"
		}
		msgs := make([]roleMessage, 0, len(r.History)+1)
		for _, t := range r.History {
			role := RoleAssistant
			if t.Role == RoleUser {
				role = userRole
			}
			msgs = append(msgs, roleMessage{Role: role, Content: t.Content})
		}
		msgs = append(msgs, roleMessage{Role: userRole, Content: r.Prompt})
		return marshal(messagesBody{Messages: msgs})

	case config.PayloadSLMessages:
		msgs := make([]slMessage, 0, len(r.History)+1)
		for _, t := range r.History {
			role := RoleAssistant
			if t.Role == RoleUser {
				role = RoleUser
			}
			msgs = append(msgs, slMessage{SLRole: role, Content: t.Content})
		}
		msgs = append(msgs, slMessage{SLRole: RoleUser, Content: r.Prompt})
		deploymentID := r.DeploymentID
		if deploymentID == "" {
			deploymentID = "end_turn"
		}
		return marshal(slMessagesBody{Messages: msgs, SessionID: r.SessionID, DeploymentID: deploymentID})
	}
	return nil, "", errors.Errorf("unknown payload mode %q", r.Mode)
}

func marshal(v any) ([]byte, string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, "", errors.Wrap(err, "encode pipeline payload")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), "application/json", nil
}
