package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessorsDefaultToZeroValues(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, ReviewerID(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}

func TestAccessorsRoundTrip(t *testing.T) {
	fixed := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	ctx := WithReviewerID(context.Background(), "analyst-7")
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithTime(ctx, fixed)
	ctx = WithClientMetadata(ctx, "10.0.0.8", "curl/8.0")

	assert.Equal(t, "analyst-7", ReviewerID(ctx))
	assert.Equal(t, "req-42", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
	assert.Equal(t, "10.0.0.8", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))
}
