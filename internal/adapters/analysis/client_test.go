package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

var sampleRequest = domain.AnalysisRequest{
	Point:      domain.GeoPoint{Lat: 17.385, Lng: 78.4867},
	SummerDate: "2023-06-01",
	WinterDate: "2023-12-01",
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
}

func analysisKind(t *testing.T, err error) domain.ErrorKind {
	t.Helper()
	var ae *domain.AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *domain.AnalysisError, got %T: %v", err, err)
	}
	return ae.Kind
}

func TestAnalyze_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		pos := body["position"].(map[string]any)
		if pos["lat"] != 17.385 || pos["lng"] != 78.4867 {
			t.Errorf("position = %v", pos)
		}
		if body["summerDate"] != "2023-06-01" || body["winterDate"] != "2023-12-01" {
			t.Errorf("dates = %v / %v", body["summerDate"], body["winterDate"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"summer": {"acresWithCrop": 6, "acresIdle": 4},
			"winter": {"acresWithCrop": 2, "acresIdle": 8},
			"boundary": [[[78.1, 17.2], [78.2, 17.2], [78.2, 17.3]]],
			"position": {"lat": 17.385, "lng": 78.4867},
			"dates": {"summer": "2023-06-01", "winter": "2023-12-01"}
		}`))
	})

	res, err := client.Analyze(context.Background(), sampleRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summer.AcresWithCrop != 6 || res.Winter.AcresIdle != 8 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.BoundaryRings) != 1 || len(res.BoundaryRings[0]) != 3 {
		t.Errorf("boundary = %v", res.BoundaryRings)
	}
	if res.BoundaryRings[0][0][0] != 78.1 {
		t.Errorf("first position = %v, want lng first", res.BoundaryRings[0][0])
	}
}

func TestAnalyze_ErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid date range"}`))
	})

	_, err := client.Analyze(context.Background(), sampleRequest)
	if kind := analysisKind(t, err); kind != domain.KindRemoteRejected {
		t.Errorf("kind = %s, want remote_rejected", kind)
	}
	var ae *domain.AnalysisError
	errors.As(err, &ae)
	if ae.UserMessage() != "invalid date range" {
		t.Errorf("message = %q", ae.UserMessage())
	}
}

func TestAnalyze_ServerErrorWithMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Earth Engine quota exceeded"}`))
	})

	_, err := client.Analyze(context.Background(), sampleRequest)
	var ae *domain.AnalysisError
	if !errors.As(err, &ae) || ae.Kind != domain.KindRemoteRejected || ae.Message != "Earth Engine quota exceeded" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestAnalyze_BareStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := client.Analyze(context.Background(), sampleRequest)
	var ae *domain.AnalysisError
	if !errors.As(err, &ae) || ae.Kind != domain.KindTransportFailure {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if ae.Message != "request failed with status code 502" {
		t.Errorf("message = %q", ae.Message)
	}
}

func TestAnalyze_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing boundary", `{"summer":{"acresWithCrop":6,"acresIdle":4},"winter":{"acresWithCrop":2,"acresIdle":8}}`},
		{"null boundary", `{"summer":{"acresWithCrop":6,"acresIdle":4},"winter":{"acresWithCrop":2,"acresIdle":8},"boundary":null}`},
		{"missing winter", `{"summer":{"acresWithCrop":6,"acresIdle":4},"boundary":[[[1,2],[3,4],[5,6]]]}`},
		{"missing acreage", `{"summer":{"acresWithCrop":6},"winter":{"acresWithCrop":2,"acresIdle":8},"boundary":[[[1,2],[3,4],[5,6]]]}`},
		{"wrong types", `{"summer":"six","winter":{},"boundary":"none"}`},
		{"not json", `ok`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Analyze(context.Background(), sampleRequest)
			if kind := analysisKind(t, err); kind != domain.KindMalformedResponse {
				t.Errorf("kind = %s, want malformed_response", kind)
			}
		})
	}
}

func TestAnalyze_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := New(Config{BaseURL: url})
	_, err := client.Analyze(context.Background(), sampleRequest)
	var ae *domain.AnalysisError
	if !errors.As(err, &ae) || ae.Kind != domain.KindTransportFailure {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if ae.Message == "" {
		t.Error("transport failure should carry the underlying message")
	}
}

func TestAnalyze_DeadlineExceeded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Analyze(ctx, sampleRequest)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAnalyze_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), BreakerFailures: 2, BreakerOpenDelay: time.Minute})
	for i := 0; i < 2; i++ {
		_, _ = client.Analyze(context.Background(), sampleRequest)
	}

	_, err := client.Analyze(context.Background(), sampleRequest)
	var ae *domain.AnalysisError
	if !errors.As(err, &ae) || ae.Kind != domain.KindTransportFailure {
		t.Fatalf("expected transport failure from open breaker, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d calls, want 2", n)
	}
}

func TestAnalyze_CancelledCallsDoNotOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			received <- struct{}{}
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"summer": {"acresWithCrop": 6, "acresIdle": 4},
			"winter": {"acresWithCrop": 2, "acresIdle": 8},
			"boundary": [[[78.1, 17.2], [78.2, 17.2], [78.2, 17.3]]]
		}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), BreakerFailures: 2, BreakerOpenDelay: time.Minute})

	// Each call is abandoned mid-flight, the way a point change supersedes a request.
	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-received
			cancel()
		}()
		if _, err := client.Analyze(ctx, sampleRequest); !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: expected context.Canceled, got %v", i, err)
		}
		cancel()
	}

	healthy.Store(true)
	res, err := client.Analyze(context.Background(), sampleRequest)
	if err != nil {
		t.Fatalf("expected the next call to reach the service, got %v", err)
	}
	if res.Summer.AcresWithCrop != 6 {
		t.Errorf("unexpected result %+v", res)
	}
	if n := calls.Load(); n != 7 {
		t.Errorf("server saw %d calls, want 7", n)
	}
}

func TestRejection(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind domain.ErrorKind
		msg  string
	}{
		{"error field", `{"error":"bad point"}`, domain.KindRemoteRejected, "bad point"},
		{"blank error", `{"error":"  "}`, domain.KindTransportFailure, "request failed with status code 400"},
		{"other json", `{"detail":"x"}`, domain.KindTransportFailure, "request failed with status code 400"},
		{"empty", ``, domain.KindTransportFailure, "request failed with status code 400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rejection(400, []byte(tt.body))
			if err.Kind != tt.kind || err.Message != tt.msg {
				t.Errorf("rejection = %s %q, want %s %q", err.Kind, err.Message, tt.kind, tt.msg)
			}
		})
	}
}

func TestThumbnail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thumbnail/summer" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body thumbnailBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body.Position.Lat != 17.385 || body.Dates.Summer != "2023-06-01" || body.Dates.Winter != "2023-12-01" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})

	img, ct, err := client.Thumbnail(context.Background(), "summer", sampleRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct != "image/png" || len(img) != 4 {
		t.Errorf("got %q with %d bytes", ct, len(img))
	}
}

func TestThumbnail_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no imagery for date"}`))
	})

	_, _, err := client.Thumbnail(context.Background(), "winter", sampleRequest)
	if kind := analysisKind(t, err); kind != domain.KindRemoteRejected {
		t.Errorf("kind = %s", kind)
	}
}
