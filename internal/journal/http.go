package journal

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"invoicex/pkg/types"
)

// httpBackend ships batches to an external collector: POST <url>/orders
// and POST <url>/trades, each carrying a JSON array.
type httpBackend struct {
	http *resty.Client
}

func newHTTPBackend(url string) *httpBackend {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &httpBackend{http: client}
}

func (b *httpBackend) flush(orders []types.Order, trades []types.Trade) error {
	if len(orders) > 0 {
		if err := b.post("/orders", orders); err != nil {
			return err
		}
	}
	if len(trades) > 0 {
		if err := b.post("/trades", trades); err != nil {
			return err
		}
	}
	return nil
}

func (b *httpBackend) post(path string, body any) error {
	resp, err := b.http.R().
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated &&
		resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (b *httpBackend) close() error {
	return nil
}
