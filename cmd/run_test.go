package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/seance/internal/channels"
)

type staticStatus map[string]channels.ChannelStatus

func (s staticStatus) GetStatus() map[string]channels.ChannelStatus { return s }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		status staticStatus
		code   int
	}{
		{"one running", staticStatus{"discord": {Running: true}, "telegram": {}}, http.StatusOK},
		{"none running", staticStatus{"discord": {}}, http.StatusServiceUnavailable},
		{"no channels", staticStatus{}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		healthHandler(tt.status).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tt.code {
			t.Fatalf("%s: code = %d, want %d", tt.name, rec.Code, tt.code)
		}
		var body struct {
			OK       bool                              `json:"ok"`
			Channels map[string]channels.ChannelStatus `json:"channels"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if body.OK != (tt.code == http.StatusOK) || len(body.Channels) != len(tt.status) {
			t.Fatalf("%s: body = %+v", tt.name, body)
		}
	}
}
