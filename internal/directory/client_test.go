package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreate(t *testing.T) {
	expires := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, createPath, r.URL.Path)

		var body createRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Registration{Code: "AB23CD", PeerID: body.PeerID, ExpiresAt: expires})
	}))
	defer srv.Close()

	reg, err := NewClient(srv.URL+"/", nil).Create(context.Background(), "host-peer")
	require.NoError(t, err)
	assert.Equal(t, Registration{Code: "AB23CD", PeerID: "host-peer", ExpiresAt: expires}, reg)
}

func TestClientLookupStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "found", status: http.StatusOK, body: `{"peer_id":"host-peer"}`, want: "host-peer"},
		{name: "not found", status: http.StatusNotFound, body: `{"error":"Party code not found"}`, wantErr: ErrNotFound},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantErr: ErrUnavailable},
		{name: "garbage body", status: http.StatusOK, body: `{`, wantErr: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewClient(srv.URL, nil).Lookup(context.Background(), "ab23cd")
			assert.Equal(t, lookupPath+"AB23CD/", path)
			if tt.wantErr != nil {
				var de *Error
				require.ErrorAs(t, err, &de)
				assert.Equal(t, "lookup", de.Op)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).Create(context.Background(), "host-peer")
	assert.ErrorIs(t, err, ErrUnavailable)
}
