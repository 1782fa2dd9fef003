package reservation

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stockbook/stockbook/internal/ledger"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, newTestService(repo))
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHandlerReserveAndRelease(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.LocationWarehouse, "40")
	router := newTestRouter(repo)

	body := `{"order_id":100,"client_id":41,"lines":[{"line_id":1,"item_type":"ERP_PRODUCT","item_id":7,"qty":"70"}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"backorder":true`)
	require.Equal(t, "70", repo.reservedAt(flour, ledger.LocationWarehouse))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations/release", strings.NewReader(`{"order_id":100}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", repo.reservedAt(flour, ledger.LocationWarehouse))

	// A second release finds nothing active.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations/release", strings.NewReader(`{"order_id":100}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerReserveValidation(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{"order_id":100,"client_id":41,"lines":[]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	body := `{"order_id":100,"client_id":41,"lines":[{"line_id":1,"item_type":"ERP_PRODUCT","item_id":7,"qty":"abc"}]}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerFulfill(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(flour, ledger.LocationWarehouse, "40")
	router := newTestRouter(repo)

	body := `{"order_id":100,"client_id":41,"lines":[{"line_id":1,"item_type":"ERP_PRODUCT","item_id":7,"qty":"10"}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reservations/fulfill", strings.NewReader(`{"order_id":100,"line_ids":[1]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", repo.reservedAt(flour, ledger.LocationWarehouse))
	for _, r := range repo.rows {
		require.Equal(t, StatusFulfilled, r.Status)
	}
}
