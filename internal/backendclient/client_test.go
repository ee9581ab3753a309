package backendclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

type fakeDoer struct {
	responses []fakeResponse
	requests  []*http.Request
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func TestPollSendsHeartbeatHeadersAndParsesTasks(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{"todos":[{"taskId":"t1","displayNumber":427,"executionStatus":"queued"}]}`},
	}}
	client := New("https://api.example.com", "secret", doer)

	tasks, err := client.Poll(context.Background(), "host-abcd1234", "host", []string{"github.com/u/r"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, 427, tasks[0].DisplayNumber)

	req := doer.requests[0]
	require.Equal(t, "host-abcd1234", req.Header.Get("machine_id"))
	require.Equal(t, "host", req.Header.Get("machine_name"))
	require.Equal(t, "github.com/u/r", req.Header.Get("repo_urls"))
	require.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestClaimParsesClaimedFalse(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{"claimed":false,"claimedBy":"other-host"}`},
	}}
	client := New("https://api.example.com", "secret", doer)

	result, err := client.Claim(context.Background(), 500, "host-a", "host")
	require.NoError(t, err)
	require.False(t, result.Claimed)
	require.Equal(t, "other-host", result.ClaimedBy)
}

func TestUpdateStatusFailsOnSuccessFalse(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{"success":false}`},
	}}
	client := New("https://api.example.com", "secret", doer)

	err := client.UpdateStatus(context.Background(), contracts.StatusUpdate{DisplayNumber: 1, Status: contracts.StatusFailed})
	require.Error(t, err)
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 401, body: `{"error":"invalid key"}`},
	}}
	client := New("https://api.example.com", "bad-key", doer)

	_, err := client.Poll(context.Background(), "host-abcd1234", "host", nil)
	require.Error(t, err)
	require.Len(t, doer.requests, 1)
}

func TestTransientFailureIsRetriedUntilSuccess(t *testing.T) {
	original := sleepBetweenRetries
	defer func() { sleepBetweenRetries = original }()
	sleepBetweenRetries = func(ctx context.Context, d time.Duration) error { return nil }

	doer := &fakeDoer{responses: []fakeResponse{
		{status: 503, body: "unavailable"},
		{status: 200, body: `{"todos":[]}`},
	}}
	client := New("https://api.example.com", "secret", doer)

	_, err := client.Poll(context.Background(), "host-abcd1234", "host", nil)
	require.NoError(t, err)
	require.Len(t, doer.requests, 2)
}
