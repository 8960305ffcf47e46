package gateway

import (
	"context"
	"errors"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleGateway translates through the Google Cloud Translation API.
// It ignores Instructions: the v2 API accepts bare text.
type GoogleGateway struct {
	client *translate.Client
	target language.Tag
}

// NewGoogle builds the client once per run. An unparsable target
// language is a configuration error and fails fast.
func NewGoogle(ctx context.Context, credentialsFile, targetLang string) (*GoogleGateway, error) {
	target, err := language.Parse(targetLang)
	if err != nil {
		return nil, Errorf(Fatal, "google", "invalid target language %q: %v", targetLang, err)
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, Errorf(Fatal, "google", "failed to create client: %v", err)
	}
	return &GoogleGateway{client: client, target: target}, nil
}

func (g *GoogleGateway) Name() string { return "google" }

func (g *GoogleGateway) Translate(ctx context.Context, req Request) (string, error) {
	translations, err := g.client.Translate(ctx, []string{req.Text}, g.target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", NewError(classFromStatus(apiErr.Code), g.Name(), err)
		}
		return "", NewError(Transient, g.Name(), err)
	}
	if len(translations) == 0 {
		return "", Errorf(Malformed, g.Name(), "no translation returned")
	}
	return translations[0].Text, nil
}

func (g *GoogleGateway) Close() error { return g.client.Close() }
