package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewAppliesRequestTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second

	c := New(cfg)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Timeout)
	}
}

func TestNewStreamingHasNoOverallTimeout(t *testing.T) {
	c := NewStreaming(DefaultConfig())
	if c.Timeout != 0 {
		t.Errorf("streaming client Timeout = %v, want 0", c.Timeout)
	}
}

func TestTransportTuning(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg)

	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport is %T, want *http.Transport", c.Transport)
	}
	if tr.MaxIdleConnsPerHost != cfg.MaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, cfg.MaxIdleConnsPerHost)
	}
	if tr.ResponseHeaderTimeout != cfg.ResponseHeaderTimeout {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", tr.ResponseHeaderTimeout, cfg.ResponseHeaderTimeout)
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 = false")
	}
}
