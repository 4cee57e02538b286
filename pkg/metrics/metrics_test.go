package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordNotification(t *testing.T) {
	before := testutil.ToFloat64(NotificationsTotal.WithLabelValues("follow_up", "sent"))
	RecordNotification("follow_up", "sent")
	assert.Equal(t, before+1, testutil.ToFloat64(NotificationsTotal.WithLabelValues("follow_up", "sent")))
}

func TestRecordDispatchRun_OnlySuccessMovesTimestamp(t *testing.T) {
	finished := time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)
	RecordDispatchRun(time.Second, finished, true)
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(DispatchLastSuccess))

	RecordDispatchRun(time.Second, finished.Add(time.Hour), false)
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(DispatchLastSuccess))
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	RecordNotification("weekly", "skipped")
	require.NoError(t, Push(context.Background(), srv.URL, ""))
	assert.Equal(t, "/metrics/job/commitment_dispatch", gotPath)
}
