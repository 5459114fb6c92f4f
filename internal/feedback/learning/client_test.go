package learning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhruv/internal/feedback/models"
	review "dhruv/internal/review/models"
)

func submission() Submission {
	return Submission{
		ExampleID:       "ex-1",
		ItemID:          "t1",
		OriginalText:    "DC inspected the anganwadi in Gumla",
		OriginalPayload: review.Payload{EventType: "inspection", Location: "Gumla"},
		Correction:      []review.FieldChange{{Field: review.FieldEventType, Original: "inspection", Updated: "visit"}},
	}
}

func TestHTTPClientSubmit(t *testing.T) {
	t.Run("returns the decoded verdict", func(t *testing.T) {
		var got Submission
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"decision":"auto_deploy","reason":"3 matching examples"}`))
		}))
		defer srv.Close()

		v, err := NewHTTPClient(srv.URL, time.Second).Submit(context.Background(), submission())

		require.NoError(t, err)
		assert.Equal(t, models.DecisionAutoDeploy, v.Decision)
		assert.Equal(t, "3 matching examples", v.Reason)
		assert.Equal(t, "ex-1", got.ExampleID)
		assert.Equal(t, "DC inspected the anganwadi in Gumla", got.OriginalText)
		require.Len(t, got.Correction, 1)
		assert.Equal(t, review.FieldEventType, got.Correction[0].Field)
	})

	t.Run("id carries the record and example_id the training example", func(t *testing.T) {
		var wire map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
			_, _ = w.Write([]byte(`{"decision":"needs_more_examples"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Submit(context.Background(), submission())

		require.NoError(t, err)
		assert.Equal(t, "t1", wire["id"])
		assert.Equal(t, "ex-1", wire["example_id"])
		assert.NotContains(t, wire, "item_id")
	})

	t.Run("non-2xx is a forwarding error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model busy", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Submit(context.Background(), submission())

		var fe *ForwardingError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
		assert.Contains(t, fe.Error(), "model busy")
	})

	t.Run("unknown decision is a forwarding error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"decision":"MAYBE"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Submit(context.Background(), submission())

		var fe *ForwardingError
		require.ErrorAs(t, err, &fe)
	})

	t.Run("unreachable endpoint is a forwarding error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewHTTPClient(url, time.Second).Submit(context.Background(), submission())

		var fe *ForwardingError
		require.ErrorAs(t, err, &fe)
		assert.NotNil(t, errors.Unwrap(fe))
	})
}

func TestNopClient(t *testing.T) {
	v, err := NopClient{}.Submit(context.Background(), submission())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionNeedsMoreExamples, v.Decision)
}
