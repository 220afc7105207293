package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Collectors are global; tests compare deltas.

func TestRecordDetail(t *testing.T) {
	before := testutil.ToFloat64(detailRequestsTotal.WithLabelValues(OutcomeStale))
	RecordDetail(OutcomeStale, time.Second)
	RecordDetail(OutcomeStale, time.Second)
	assert.Equal(t, before+2, testutil.ToFloat64(detailRequestsTotal.WithLabelValues(OutcomeStale)))

	before = testutil.ToFloat64(detailRequestsTotal.WithLabelValues(OutcomeResolved))
	RecordDetail(OutcomeResolved, 50*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(detailRequestsTotal.WithLabelValues(OutcomeResolved)))
}

func TestRecordReload(t *testing.T) {
	before := testutil.ToFloat64(tableReloadsTotal)
	RecordReload(42)
	assert.Equal(t, before+1, testutil.ToFloat64(tableReloadsTotal))
	assert.Equal(t, 42.0, testutil.ToFloat64(tableCells))
}

func TestRecordTileCache(t *testing.T) {
	hits := testutil.ToFloat64(tileCacheTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(tileCacheTotal.WithLabelValues("miss"))
	RecordTileCache(true)
	RecordTileCache(false)
	RecordTileCache(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(tileCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(tileCacheTotal.WithLabelValues("miss")))
}

func TestWSClients(t *testing.T) {
	before := testutil.ToFloat64(wsClients)
	WSClientConnected()
	WSClientConnected()
	WSClientDisconnected()
	assert.Equal(t, before+1, testutil.ToFloat64(wsClients))
}

func TestRecordSelectionAndBuild(t *testing.T) {
	before := testutil.ToFloat64(selectionsTotal.WithLabelValues("region"))
	RecordSelection("region")
	assert.Equal(t, before+1, testutil.ToFloat64(selectionsTotal.WithLabelValues("region")))

	RecordMembershipBuild(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, testutil.ToFloat64(membershipBuildSeconds), 1e-9)
}
