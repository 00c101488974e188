// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.CollectAndCount(DBQueryErrors)

	RecordDBQuery("select", "interactions", 5*time.Millisecond, nil)
	RecordDBQuery("select", "interactions", 5*time.Millisecond, errors.New("boom"))

	after := testutil.CollectAndCount(DBQueryErrors)
	if after <= before-1 {
		t.Errorf("expected error counter series to exist after failed query")
	}
}

func TestRecordTrainingRun(t *testing.T) {
	RecordTrainingRun("completed", 2*time.Second)
	RecordTrainingRun("failed", 0)
	RecordTrainingRun("skipped", 0)

	if got := testutil.ToFloat64(TrainingRunsTotal.WithLabelValues("completed")); got < 1 {
		t.Errorf("expected completed run counter >= 1, got %v", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("GET", "/api/v1/recommendations", "200", 10*time.Millisecond)

	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/recommendations", "200")); got < 1 {
		t.Errorf("expected request counter >= 1, got %v", got)
	}
}
