package ledger

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestHandler(e *Engine) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, e, nil, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHandlerRecordMovementCarriesOccurredAt(t *testing.T) {
	e, repo, _ := newTestEngine()
	router := newTestHandler(e)

	at := time.Date(2026, 5, 1, 6, 30, 0, 0, time.UTC)
	body := fmt.Sprintf(`{"item_type":"ERP_PRODUCT","item_id":7,"movement_type":"RECEIPT",
"qty":"10","location_to":"WAREHOUSE","unit_cost":"4","actor_id":1,"occurred_at":%q}`, at.Format(time.RFC3339))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/movements", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, repo.movements, 1)
	require.True(t, repo.movements[0].OccurredAt.Equal(at))

	// The lot inherits the caller timestamp so FIFO ordering follows the
	// business date rather than the insert time.
	for _, sb := range repo.batches {
		require.True(t, sb.batch.EnteredAt.Equal(at))
	}
}

func TestHandlerTransferSameLocationRejected(t *testing.T) {
	e, _, _ := newTestEngine()
	router := newTestHandler(e)

	body := `{"item_type":"ERP_PRODUCT","item_id":7,"batch_id":"b-1","qty":"5","from":"WAREHOUSE","to":"WAREHOUSE"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
