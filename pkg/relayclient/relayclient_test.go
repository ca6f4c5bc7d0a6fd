package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
)

const refID = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestClient(t *testing.T) {
	var nudged []string
	mux := http.NewServeMux()
	mux.HandleFunc("/intents/pending", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xUser", r.URL.Query().Get("user"))
		_ = json.NewEncoder(w).Encode(PendingResponse{
			Intents: []models.StatusView{{RefID: refID, Status: models.StatusBridged}},
			Count:   1,
		})
	})
	mux.HandleFunc("/intents/nudge", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req NudgeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		nudged = append(nudged, req.RefID)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/intents/"+refID, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.StatusView{RefID: refID, Status: models.StatusMinting, MintTxHash: "0xmint"})
	})
	mux.HandleFunc("/intents/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"intent not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/intents/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/", &logger.EmptyLogger{})
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		views, err := c.ListPending(ctx, "0xUser")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, models.StatusBridged, views[0].Status)
	})

	t.Run("status", func(t *testing.T) {
		view, err := c.Status(ctx, refID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMinting, view.Status)
		assert.Equal(t, "0xmint", view.MintTxHash)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := c.Status(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := c.Status(ctx, "broken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("nudge", func(t *testing.T) {
		require.NoError(t, c.Nudge(ctx, refID))
		assert.Equal(t, []string{refID}, nudged)
	})
}
