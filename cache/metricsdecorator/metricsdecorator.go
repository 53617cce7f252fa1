package metricsdecorator

// This is a decorator for any implementation of the cache.BlobStore
// interface. It adds prometheus metrics for the backend requests made by
// the lifecycle manager.

import (
	"context"
	"errors"
	"io"

	"github.com/kbase/caching-service/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	counterBackendReqs *prometheus.CounterVec
	counterBytesIn     prometheus.Counter
	parent             cache.BlobStore
}

const statusOK = "ok"
const statusNotFound = "notFound"
const statusError = "error"

const methodGet = "get"
const methodPut = "put"
const methodStat = "stat"
const methodDelete = "delete"
const methodList = "list"

// NewMetricsDecorator wraps parent, registering its counters with reg.
func NewMetricsDecorator(reg prometheus.Registerer, parent cache.BlobStore) cache.BlobStore {
	factory := promauto.With(reg)

	return &metrics{
		counterBackendReqs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caching_service_backend_requests_total",
				Help: "The number of requests made to the blob store backend",
			},
			[]string{"method", "status"}),
		counterBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "caching_service_backend_uploaded_bytes_total",
			Help: "The number of payload bytes successfully written to the blob store backend",
		}),
		parent: parent,
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, cache.ErrNotFound):
		return statusNotFound
	}
	return statusError
}

func (m *metrics) incrementRequests(method string, err error) {
	m.counterBackendReqs.WithLabelValues(method, statusOf(err)).Inc()
}

// countingReader counts the bytes handed to the backend.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (m *metrics) Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	cr := &countingReader{r: r}
	err := m.parent.Put(ctx, key, cr, size, meta)
	if err == nil {
		m.counterBytesIn.Add(float64(cr.n))
	}
	m.incrementRequests(methodPut, err)
	return err
}

func (m *metrics) Get(ctx context.Context, key string) (io.ReadCloser, *cache.ObjectInfo, error) {
	rc, info, err := m.parent.Get(ctx, key)
	m.incrementRequests(methodGet, err)
	return rc, info, err
}

func (m *metrics) Stat(ctx context.Context, key string) (*cache.ObjectInfo, error) {
	info, err := m.parent.Stat(ctx, key)
	m.incrementRequests(methodStat, err)
	return info, err
}

func (m *metrics) Delete(ctx context.Context, key string) error {
	err := m.parent.Delete(ctx, key)
	m.incrementRequests(methodDelete, err)
	return err
}

func (m *metrics) List(ctx context.Context, fn func(key string) error) error {
	err := m.parent.List(ctx, fn)
	m.incrementRequests(methodList, err)
	return err
}

func (m *metrics) Describe() string {
	return cache.Describe(m.parent)
}
