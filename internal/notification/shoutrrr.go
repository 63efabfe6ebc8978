package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/migration-assistant/internal/errors"
)

const shoutrrrChannel = "shoutrrr"

// ShoutrrrNotifier sends error-stage alerts to every configured shoutrrr URL.
type ShoutrrrNotifier struct {
	urls []string
	send func(message string, params *stypes.Params) []error
}

// NewShoutrrrNotifier builds one router for all urls.
func NewShoutrrrNotifier(urls []string, timeout time.Duration) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// URLs carry tokens, keep them out of the message
		return nil, errors.Newf("invalid shoutrrr URL configuration").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrNotifier{urls: slices.Clone(urls), send: sender.Send}, nil
}

func (s *ShoutrrrNotifier) Name() string { return shoutrrrChannel }

// Accepts only failures.
func (s *ShoutrrrNotifier) Accepts(ev Event) bool { return ev.IsError }

// Send delivers ev. The router applies its own timeout.
func (s *ShoutrrrNotifier) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	params.SetTitle(ev.Title())

	for _, err := range s.send(ev.Body(), &params) {
		if err != nil {
			return errors.Newf("shoutrrr delivery failed").
				Component("notification").
				Category(errors.CategoryNetwork).
				Context("url_count", len(s.urls)).
				Build()
		}
	}
	return nil
}
