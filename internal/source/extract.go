package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/go-tika/tika"
	"github.com/rs/zerolog/log"
)

// Extractor turns a binary document into plain text.
type Extractor interface {
	Extract(ctx context.Context, content []byte) (string, error)
}

// TikaExtractor extracts text with an Apache Tika server.
type TikaExtractor struct {
	client   *tika.Client
	Attempts uint
}

// NewTikaExtractor talks to the Tika server at tikaURL. A nil httpClient
// uses http.DefaultClient.
func NewTikaExtractor(tikaURL string, httpClient *http.Client) *TikaExtractor {
	if tikaURL == "" {
		tikaURL = "http://localhost:9998"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TikaExtractor{
		client:   tika.NewClient(httpClient, strings.TrimRight(tikaURL, "/")),
		Attempts: 3,
	}
}

// Extract returns the trimmed plain text of content.
func (e *TikaExtractor) Extract(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	hdr := http.Header{}
	hdr.Set("Accept", "text/plain")

	text, err := retry.DoWithData(func() (string, error) {
		return e.client.ParseWithHeader(ctx, bytes.NewReader(content), hdr)
	},
		retry.Attempts(max(1, e.Attempts)),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Uint("retry_number", n).
				Msg("retrying document text extraction")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: extract text: %w", ErrUnavailable, err)
	}
	return strings.TrimSpace(text), nil
}
