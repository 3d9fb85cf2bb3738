package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NurzhauganovA/galmart/internal/config"
	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository/postgres"
	"github.com/NurzhauganovA/galmart/internal/service"
	"github.com/NurzhauganovA/galmart/pkg/database"
	"github.com/NurzhauganovA/galmart/pkg/health"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// newTestRouter wires the real router, service, and stores over a pgxmock
// pool, so requests exercise the full path from route to SQL.
func newTestRouter(t *testing.T) (http.Handler, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	svc := service.NewReservationService(
		mock,
		postgres.NewLedger(mock, config.LockingPessimistic, 3),
		postgres.NewReservationStore(mock),
		postgres.NewOutboxStore(mock),
		postgres.NewProductStore(mock),
		postgres.NewIdempotencyStore(mock),
		nil,
		logger,
		service.Config{
			TTL:              15 * time.Minute,
			MaxActivePerUser: 5,
			EventTopic:       "reservation_events",
			IdempotencyTTL:   24 * time.Hour,
		},
	)

	return NewRouter(svc, health.NewHandler(), logger), mock
}

var reservationCols = []string{
	"id", "user_id", "product_id", "quantity", "unit_price", "total_price",
	"status", "customer_info", "expires_at", "created_at", "confirmed_at", "cancelled_at",
}

func reservationRow(id uuid.UUID, userID int64, status string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(reservationCols).AddRow(
		id, userID, int64(7), 2,
		decimal.RequireFromString("149.90"), decimal.RequireFromString("299.80"),
		status, map[string]string(nil), now.Add(10*time.Minute), now,
		(*time.Time)(nil), (*time.Time)(nil),
	)
}

func doJSON(t *testing.T, router http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

// ---------------------------------------------------------------------------
// identity middleware
// ---------------------------------------------------------------------------

func TestCreate_MissingIdentity(t *testing.T) {
	router, mock := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
		`{"product_id":7,"quantity":2}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_MalformedIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, bad := range []string{"abc", "0", "-5"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
			`{"product_id":7,"quantity":2}`, map[string]string{"X-User-ID": bad})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, bad)
	}
}

// ---------------------------------------------------------------------------
// POST /api/v1/reservations
// ---------------------------------------------------------------------------

func TestCreate_Success(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM products WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "is_active", "created_at"}).
			AddRow(int64(7), "wireless keyboard", decimal.RequireFromString("149.90"), true, time.Now().UTC()))
	mock.ExpectQuery("SELECT count").
		WithArgs(int64(42), domain.ReservationStatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .+ FROM stock WHERE product_id .+ FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "on_hand", "reserved", "version", "updated_at"}).
			AddRow(int64(7), 10, 2, int64(1), time.Now().UTC()))
	mock.ExpectExec("UPDATE stock SET on_hand").
		WithArgs(int64(7), 10, 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(pgxmock.AnyArg(), int64(42), int64(7), 2, pgxmock.AnyArg(), pgxmock.AnyArg(),
			domain.ReservationStatusPending, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO outbox").
		WithArgs("42", "reservation_events", "reservation.created", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
		`{"product_id":7,"quantity":2}`, map[string]string{"X-User-ID": "42"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Data domain.Reservation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.ReservationStatusPending, body.Data.Status)
	assert.Equal(t, int64(42), body.Data.UserID)
	assert.True(t, body.Data.TotalPrice.Equal(decimal.RequireFromString("299.80")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ValidationFailure(t *testing.T) {
	router, mock := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
		`{"product_id":0,"quantity":2}`, map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_MalformedBody(t *testing.T) {
	router, mock := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
		`{not json`, map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_InsufficientStock(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM products WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "is_active", "created_at"}).
			AddRow(int64(7), "wireless keyboard", decimal.RequireFromString("149.90"), true, time.Now().UTC()))
	mock.ExpectQuery("SELECT count").
		WithArgs(int64(42), domain.ReservationStatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .+ FROM stock WHERE product_id .+ FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "on_hand", "reserved", "version", "updated_at"}).
			AddRow(int64(7), 3, 2, int64(1), time.Now().UTC()))
	mock.ExpectRollback()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
		`{"product_id":7,"quantity":2}`, map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_stock", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UserLimit(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM products WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "is_active", "created_at"}).
			AddRow(int64(7), "wireless keyboard", decimal.RequireFromString("149.90"), true, time.Now().UTC()))
	mock.ExpectQuery("SELECT count").
		WithArgs(int64(42), domain.ReservationStatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectRollback()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations",
		`{"product_id":7,"quantity":2}`, map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_limit", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GET /api/v1/reservations/{id}
// ---------------------------------------------------------------------------

func TestGet_InvalidUUID(t *testing.T) {
	router, mock := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/reservations/not-a-uuid", "",
		map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameter", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_Success(t *testing.T) {
	router, mock := newTestRouter(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE id").
		WithArgs(id).
		WillReturnRows(reservationRow(id, 42, domain.ReservationStatusPending))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/reservations/"+id.String(), "",
		map[string]string{"X-User-ID": "42"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data domain.Reservation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id, body.Data.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotOwner(t *testing.T) {
	router, mock := newTestRouter(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE id").
		WithArgs(id).
		WillReturnRows(reservationRow(id, 42, domain.ReservationStatusPending))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/reservations/"+id.String(), "",
		map[string]string{"X-User-ID": "99"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_owner", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	router, mock := newTestRouter(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/reservations/"+id.String(), "",
		map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// POST /api/v1/reservations/{id}/confirm
// ---------------------------------------------------------------------------

func TestConfirm_NotFound(t *testing.T) {
	router, mock := newTestRouter(t)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE id .+ FOR UPDATE").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations/"+id.String()+"/confirm", "",
		map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_NotPending(t *testing.T) {
	router, mock := newTestRouter(t)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE id .+ FOR UPDATE").
		WithArgs(id).
		WillReturnRows(reservationRow(id, 42, domain.ReservationStatusCancelled))
	mock.ExpectRollback()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reservations/"+id.String()+"/confirm", "",
		map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not_pending", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GET /api/v1/reservations
// ---------------------------------------------------------------------------

func TestList_InvalidStatusFilter(t *testing.T) {
	router, mock := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/reservations?status=active", "",
		map[string]string{"X-User-ID": "42"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_Success(t *testing.T) {
	router, mock := newTestRouter(t)

	id := uuid.New()
	now := time.Now().UTC()
	cols := append(append([]string{}, reservationCols...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE user_id").
		WithArgs(int64(42), "pending", 20, 0).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			id, int64(42), int64(7), 2,
			decimal.RequireFromString("149.90"), decimal.RequireFromString("299.80"),
			domain.ReservationStatusPending, map[string]string(nil),
			now.Add(10*time.Minute), now, (*time.Time)(nil), (*time.Time)(nil), 3,
		))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/reservations?status=pending", "",
		map[string]string{"X-User-ID": "42"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data       []domain.Reservation `json:"data"`
		TotalCount int                  `json:"total_count"`
		TotalPages int                  `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, 3, body.TotalCount)
	assert.Equal(t, 1, body.TotalPages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
