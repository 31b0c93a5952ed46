package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsAuthAndProvisioning(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("password", OutcomeSuccess)
	c.RecordAuthAttempt("password", OutcomeSuccess)
	c.RecordAuthAttempt("google", OutcomeFailure)
	c.RecordAccountProvisioned("github")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.authAttempts.WithLabelValues("password", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authAttempts.WithLabelValues("google", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.accountsProvisioned.WithLabelValues("github")))
}

func TestCollectorRecordsHTTPRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest(http.MethodGet, "/api/posts", http.StatusOK, 25*time.Millisecond)
	c.RecordChatRequest(OutcomeLimited)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues(http.MethodGet, "/api/posts", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.httpDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chatRequests.WithLabelValues(OutcomeLimited)))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAccountProvisioned("apple")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	response, err := http.Get(server.URL)
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, string(body), `quill_accounts_provisioned_total{provider="apple"} 1`)
}

func TestNopRecorderIsSafe(t *testing.T) {
	recorder := Nop()
	recorder.RecordHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	recorder.RecordAuthAttempt("password", OutcomeSuccess)
	recorder.RecordAccountProvisioned("google")
	recorder.RecordChatRequest(OutcomeSuccess)
}
