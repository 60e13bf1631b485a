package backend_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/frontend-gateway/internal/backend"
)

var _ = Describe("Backend", func() {
	var (
		testURL *url.URL
		b       *backend.Backend
	)

	BeforeEach(func() {
		var err error
		testURL, err = url.Parse("http://localhost:8000")
		Expect(err).NotTo(HaveOccurred())
		b = backend.New(testURL)
	})

	Describe("New", func() {
		It("should create a backend with the correct URL", func() {
			Expect(b).NotTo(BeNil())
			Expect(b.URL()).To(Equal(testURL))
		})

		It("should have zero active connections", func() {
			Expect(b.ActiveConnections()).To(Equal(0))
		})

	})

	Describe("Connection Tracking", func() {
		It("should increase and decrease the in-flight count", func() {
			b.IncrementConn()
			b.IncrementConn()
			b.IncrementConn()
			Expect(b.ActiveConnections()).To(Equal(3))

			b.DecrementConn()
			Expect(b.ActiveConnections()).To(Equal(2))
		})

		It("should not go below zero", func() {
			b.DecrementConn()
			b.DecrementConn()
			Expect(b.ActiveConnections()).To(Equal(0))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.IncrementConn()
				}()
			}
			wg.Wait()
			Expect(b.ActiveConnections()).To(Equal(100))

			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.DecrementConn()
				}()
			}
			wg.Wait()
			Expect(b.ActiveConnections()).To(Equal(0))
		})
	})

	Describe("Response Time Tracking (EWMA)", func() {
		It("should report zero before any response", func() {
			Expect(b.EWMATime()).To(BeZero())
		})

		It("should seed the average with the first response", func() {
			b.RecordResponse(100 * time.Millisecond)
			Expect(b.EWMATime()).To(Equal(100 * time.Millisecond))
		})

		It("should smooth subsequent responses", func() {
			b.RecordResponse(100 * time.Millisecond)
			b.RecordResponse(200 * time.Millisecond)
			Expect(b.EWMATime()).To(BeNumerically("~", 120*time.Millisecond, time.Microsecond))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					b.RecordResponse(time.Duration(i) * time.Millisecond)
				}(i)
			}
			wg.Wait()
			Expect(b.EWMATime()).To(BeNumerically(">=", 0))
		})
	})

	Describe("Forward", func() {
		var (
			upstream *httptest.Server
			received chan *http.Request
			bodies   chan string
		)

		BeforeEach(func() {
			received = make(chan *http.Request, 1)
			bodies = make(chan string, 1)
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				received <- r
				bodies <- string(body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(`{"id":42}`))
			}))
			b = backend.New(mustParseURL(upstream.URL))
		})

		AfterEach(func() {
			upstream.Close()
		})

		It("should send the request to the rewritten target", func() {
			target := mustParseURL(upstream.URL + "/api/v1/widgets/42?expand=true")
			req := httptest.NewRequest(http.MethodPost, "http://frontend.local/api/v1/widgets/42?expand=true", strings.NewReader(`{"name":"w"}`))
			req.Header.Set("X-Request-ID", "req-1")
			w := httptest.NewRecorder()

			err := b.Forward(w, req, target)
			Expect(err).NotTo(HaveOccurred())

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(w.Body.String()).To(Equal(`{"id":42}`))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))

			var got *http.Request
			Eventually(received).Should(Receive(&got))
			Expect(got.Method).To(Equal(http.MethodPost))
			Expect(got.URL.Path).To(Equal("/api/v1/widgets/42"))
			Expect(got.URL.RawQuery).To(Equal("expand=true"))
			Expect(got.Host).To(Equal(target.Host))
			Expect(got.Header.Get("X-Request-ID")).To(Equal("req-1"))
			Expect(got.Header.Get("X-Forwarded-Host")).To(Equal("frontend.local"))
			Expect(got.Header.Get("X-Forwarded-For")).NotTo(BeEmpty())
			Expect(<-bodies).To(Equal(`{"name":"w"}`))
		})

		It("should return 502 and the error when the backend is unreachable", func() {
			target := mustParseURL(upstream.URL + "/legacy/ping")
			upstream.Close()

			req := httptest.NewRequest(http.MethodGet, "/api_be/legacy/ping", nil)
			w := httptest.NewRecorder()

			err := b.Forward(w, req, target)
			Expect(err).To(HaveOccurred())
			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})

		It("should return 502 and the transport error from a custom transport", func() {
			refused := errors.New("connection refused")
			b = backend.New(testURL, backend.WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
				return nil, refused
			})))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)
			w := httptest.NewRecorder()

			err := b.Forward(w, req, mustParseURL("http://localhost:8000/api/v1/widgets"))
			Expect(err).To(MatchError(refused))
			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})

		It("should stream each write when flushing immediately", func() {
			b = backend.New(mustParseURL(upstream.URL), backend.WithFlushInterval(-1))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets/42", nil)
			w := httptest.NewRecorder()

			Expect(b.Forward(w, req, mustParseURL(upstream.URL+"/api/v1/widgets/42"))).To(Succeed())
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(w.Flushed).To(BeTrue())
		})
	})
})

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
