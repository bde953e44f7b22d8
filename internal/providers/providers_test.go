package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPPoseRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pose" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"frames":[{"joints":[{"x":1,"y":2,"confidence":0.9}]}]}`))
	}))
	defer srv.Close()

	pose := NewHTTPPose(srv.URL, time.Second)
	frames, err := pose.EstimatePose(context.Background(), "videos/run.mp4")
	if err != nil {
		t.Fatalf("estimate pose: %v", err)
	}
	if len(frames) != 1 || len(frames[0].Joints) != 1 || frames[0].Joints[0].X != 1 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestHTTPLifterErrorIsStageLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	lifter := NewHTTPLifter(srv.URL, time.Second)
	_, err := lifter.Lift(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from 503 response")
	}
}
