package dataimporter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// Open returns a reader for a local file or, when source is an http(s)
// URL, the body of a GET request to it.
func Open(ctx context.Context, source string, headers map[string]string) (io.ReadCloser, error) {
	if !isValidUrl(source) {
		return os.Open(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	// Some feeds sit behind CDNs that reject requests without a user agent
	req.Header.Set("User-Agent", "sirihub")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status %s", source, resp.Status)
	}

	return resp.Body, nil
}

func isValidUrl(toTest string) bool {
	u, err := url.ParseRequestURI(toTest)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
