package chat

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/pipeline"
)

const defaultStatusBanner = "❌ Error while calling the SnapLogic API"

// PageError ties a pipeline failure to the page it came from so the banner can use the page's wording.
type PageError struct {
	Page config.PageConfig
	Err  error
}

func (e *PageError) Error() string { return e.Err.Error() }
func (e *PageError) Unwrap() error { return e.Err }
func (e *PageError) Cause() error  { return e.Err }

func withPage(page config.PageConfig, err error) error {
	return &PageError{Page: page, Err: err}
}

var (
	ErrUnknownPage = errors.New("unknown page")
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrRateLimited = errors.New("too many prompts, slow down")
)

// Banner turns a Submit error into the text shown above the chat input.
func Banner(err error) string {
	var pe *PageError
	if errors.As(err, &pe) {
		return BannerFor(pe.Page, err)
	}
	return BannerFor(config.PageConfig{}, err)
}

// BannerFor is Banner with the status wording of page.
func BannerFor(page config.PageConfig, err error) string {
	if err == nil {
		return ""
	}
	var se *pipeline.StatusError
	if errors.As(err, &se) {
		prefix := page.ErrorBanner
		if prefix == "" {
			prefix = defaultStatusBanner
		}
		return fmt.Sprintf("%s: %d", prefix, se.Code)
	}
	var mc *pipeline.MissingChoicesError
	if errors.As(err, &mc) {
		if mc.Reason == "" {
			return "❌ Error in the SnapLogic API response"
		}
		return "❌ Error in the SnapLogic API response\n" + mc.Reason
	}
	switch errors.Cause(err) {
	case ErrEmptyPrompt:
		return "Please enter a prompt."
	case ErrRateLimited:
		return "⏳ Too many prompts, please wait a moment."
	case ErrUnknownPage:
		return "❌ Unknown page"
	}
	return fmt.Sprintf("❌ Exception occurred: %s", err)
}
