package common

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNextSequenceUnique(t *testing.T) {
	const workers = 8
	const perWorker = 1000

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, NewRequest(1, nil, nil, RequestTypeAsync).Sequence)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, seq := range local {
				if seen[seq] {
					t.Errorf("Sequence %d generated twice", seq)
				}
				seen[seq] = true
			}
		}()
	}
	wg.Wait()
}

func TestNewResponseEchoesRequest(t *testing.T) {
	header := map[string]string{"trace": "abc"}
	req := NewRequest(100, []byte("ping"), header, RequestTypeAsync)
	resp := NewResponse(req, 10, []byte("pong"))

	if resp.RequestSequence != req.Sequence || resp.RequestCode != 100 || resp.RequestType != RequestTypeAsync {
		t.Errorf("Response does not echo request: %s", resp)
	}
	if !resp.RequestTime.Equal(req.CreatedTime) {
		t.Errorf("Expected request time %s, got %s", req.CreatedTime, resp.RequestTime)
	}
	if resp.RequestHeader["trace"] != "abc" {
		t.Errorf("Expected request header to be echoed, got %v", resp.RequestHeader)
	}
	if resp.Failed() {
		t.Errorf("Response with code 10 must not be failed")
	}

	timeout := NewTimeoutResponse(req)
	if !timeout.Failed() || timeout.ResponseCode != ResponseCodeTimeout || string(timeout.ResponseBody) != TimeoutMessage {
		t.Errorf("Unexpected timeout response: %s", timeout)
	}
}

func TestNowPrecision(t *testing.T) {
	now := Now()
	if now.Location() != time.UTC {
		t.Errorf("Expected UTC, got %s", now.Location())
	}
	if now.Nanosecond()%100 != 0 {
		t.Errorf("Expected 100ns precision, got %d ns", now.Nanosecond())
	}
}

func TestRequestTypeParse(t *testing.T) {
	for _, rt := range []RequestType{RequestTypeAsync, RequestTypeOneway, RequestTypeCallback} {
		parsed, err := ParseRequestType(rt.String())
		if err != nil || parsed != rt {
			t.Errorf("Failed to parse %s: %v", rt, err)
		}
	}
	if _, err := ParseRequestType("sync"); err == nil {
		t.Errorf("Expected error for unknown request type")
	}
}

func TestConfigValidate(t *testing.T) {
	client := DefaultClientConfig("127.0.0.1:5000")
	if err := client.Validate(); err != nil {
		t.Fatalf("Default client config invalid: %v", err)
	}

	client.Socket.SendMessageFlowControlThreshold = 0
	if err := client.Validate(); err == nil {
		t.Errorf("Expected error for zero flow control threshold")
	}

	server := DefaultServerConfig("")
	if err := server.Validate(); err == nil {
		t.Errorf("Expected error for missing endpoint")
	}
	server.Endpoint = ":5000"
	if err := server.Validate(); err != nil {
		t.Errorf("Default server config invalid: %v", err)
	}

	if s := server.String(); !strings.Contains(s, "BUFFER POOL") || !strings.Contains(s, ":5000") {
		t.Errorf("Unexpected server config rendering:\n%s", s)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "INFO"} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Errorf("Failed to parse log level %s: %v", level, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("Expected error for invalid log level")
	}
}
