package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-faster/errors"
)

// Source is the external resource the catalog is read from.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// NewSource picks an HTTP source for http(s) locations and a file source otherwise.
// A nil client falls back to http.DefaultClient, which has no timeout.
func NewSource(location string, client *http.Client) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if client == nil {
			client = http.DefaultClient
		}
		return httpSource{url: location, client: client}
	}
	return fileSource{path: location}
}

type fileSource struct {
	path string
}

func (s fileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	return f, nil
}

func (s fileSource) String() string { return s.path }

type httpSource struct {
	url    string
	client *http.Client
}

func (s httpSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch catalog")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s httpSource) String() string { return s.url }

// Decode parses an array-of-objects device list and rejects records that would
// break cart invariants.
func Decode(r io.Reader) ([]Device, error) {
	var devices []Device
	if err := json.NewDecoder(r).Decode(&devices); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	seen := make(map[int]struct{}, len(devices))
	for _, d := range devices {
		if d.Price.IsNegative() {
			return nil, errors.Errorf("device %d has a negative price", d.ID)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, errors.Errorf("device id %d is not unique", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return devices, nil
}
