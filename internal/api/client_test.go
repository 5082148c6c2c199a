package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/session"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sess := session.New()
	sess.Init("u1", "Alice", "tok-123")

	c, err := New(srv.URL, sess, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New("not a url", session.New())
	assert.Error(t, err)

	_, err = New("/relative/only", session.New())
	assert.Error(t, err)
}

func TestFetchRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/runs/run1", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(model.Run{
			ID:      "run1",
			GroupID: "g1",
			Store:   "Metro",
			State:   model.StateActive,
			Participants: []model.Participant{
				{UserID: "u1", Name: "Alice", Leader: true},
			},
		})
	})

	run, err := c.FetchRun(context.Background(), "run1")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, run.State)
	assert.Len(t, run.Participants, 1)
}

func TestFetchOrders_QuantityForms(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/runs/run1/orders", r.URL.Path)
		// Server emits quantities as strings and numbers; both must parse.
		w.Write([]byte(`{"run_id":"run1","products":[
			{"id":"p1","name":"Oats","requested":"10.25","interested_count":0,
			 "bids":[{"user_id":"u1","name":"Alice","quantity":10.25}]}
		]}`))
	})

	orders, err := c.FetchOrders(context.Background(), "run1")
	require.NoError(t, err)
	require.Len(t, orders.Products, 1)
	assert.Equal(t, model.Quantity(1025), orders.Products[0].Requested)
	assert.Equal(t, model.Quantity(1025), orders.Products[0].Bids[0].Quantity)
}

func TestPlaceBid_SendsBodyAndDecodesEcho(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/runs/run1/bids/p1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req BidRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.Quantity(1025), req.Quantity)

		json.NewEncoder(w).Encode(model.Orders{RunID: "run1"})
	})

	orders, err := c.PlaceBid(context.Background(), "run1", "p1", BidRequest{Quantity: 1025})
	require.NoError(t, err)
	assert.Equal(t, "run1", orders.RunID)
}

func TestAdvance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/runs/run1/phase", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "finish_adjusting", body["action"])
		assert.Equal(t, true, body["force"])

		json.NewEncoder(w).Encode(model.Run{ID: "run1", State: model.StateDistributing})
	})

	run, err := c.Advance(context.Background(), "run1", lifecycle.ActionFinishAdjusting, true)
	require.NoError(t, err)
	assert.Equal(t, model.StateDistributing, run.State)
}

func TestDo_DecodesRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"kind":"state_illegal","message":"run is completed"}}`))
	})

	_, err := c.SetReady(context.Background(), "run1", true)
	require.Error(t, err)

	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindStateIllegal, ae.Kind)
	assert.Equal(t, "run is completed", ae.Message)
	assert.Equal(t, http.StatusConflict, ae.Status)
	assert.True(t, IsKind(err, KindStateIllegal))
	assert.True(t, IsRejection(err))
}

func TestDo_RejectionWithoutBody(t *testing.T) {
	tests := []struct {
		status int
		kind   string
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusBadRequest, KindValidation},
		{http.StatusInternalServerError, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("nope"))
			})

			_, err := c.FetchRun(context.Background(), "run1")
			require.Error(t, err)

			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.kind, ae.Kind)
			assert.Equal(t, tt.status, ae.Status)
		})
	}
}

func TestDo_TransportErrorIsNotRejection(t *testing.T) {
	sess := session.New()
	c, err := New("http://127.0.0.1:1", sess) // nothing listens there
	require.NoError(t, err)

	_, err = c.FetchRun(context.Background(), "run1")
	require.Error(t, err)
	assert.False(t, IsRejection(err), "transport failures are not remote rejections")
}

func TestDo_NoCredentialNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(model.Run{ID: "run1"})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, session.New(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.FetchRun(context.Background(), "run1")
	assert.NoError(t, err)
}

func TestDo_ContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchRun(ctx, "run1")
	assert.Error(t, err)
}

func TestPathEscaping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/runs/run%2F1", r.URL.EscapedPath())
		json.NewEncoder(w).Encode(model.Run{})
	})

	_, err := c.FetchRun(context.Background(), "run/1")
	require.NoError(t, err)
}
