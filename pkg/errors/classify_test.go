package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	status int
	body   string
}

func (e *statusErr) Error() string   { return fmt.Sprintf("upstream returned %d: %s", e.status, e.body) }
func (e *statusErr) HTTPStatus() int { return e.status }

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.False(t, IsProviderLevel(nil))
	assert.Empty(t, UserMessage(nil))
}

func TestClassify_Status(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
		reason string
	}{
		{408, KindProvider, ReasonTimeout},
		{429, KindProvider, ReasonRateLimited},
		{500, KindProvider, ReasonUnavailable},
		{502, KindProvider, ReasonUnavailable},
		{503, KindProvider, ReasonUnavailable},
		{504, KindProvider, ReasonTimeout},
		{529, KindProvider, ReasonRateLimited},
		{501, KindProvider, ReasonUnavailable},
		{400, KindClient, ReasonInvalidRequest},
		{401, KindClient, ReasonUnauthorized},
		{403, KindClient, ReasonUnauthorized},
		{413, KindClient, ReasonTooLarge},
		{422, KindClient, ReasonInvalidRequest},
		{418, KindClient, ReasonInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := Classify(fmt.Errorf("stream: %w", &statusErr{status: tt.status}))
			require.NotNil(t, c)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.reason, c.Reason)
			assert.Equal(t, tt.status, c.StatusCode)
			assert.NotEmpty(t, c.UserMessage)
		})
	}
}

func TestClassify_ModelNotFoundBeatsStatus404(t *testing.T) {
	c := Classify(&statusErr{status: 404, body: "model not found"})
	assert.Equal(t, KindProvider, c.Kind)
	assert.Equal(t, ReasonModelUnavailable, c.Reason)
	assert.Equal(t, 404, c.StatusCode)

	assert.Equal(t, KindClient, Classify(&statusErr{status: 404, body: "no route"}).Kind)

	c = Classify(errors.New("The model `gpt-9` does not exist or you do not have access to it"))
	assert.Equal(t, KindProvider, c.Kind)
	assert.Equal(t, ReasonModelUnavailable, c.Reason)
}

func TestClassify_Messages(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		reason string
	}{
		{errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), KindProvider, ReasonConnection},
		{errors.New("read: connection reset by peer"), KindProvider, ReasonConnection},
		{errors.New("lookup api.example.com: no such host"), KindProvider, ReasonConnection},
		{errors.New("request timed out"), KindProvider, ReasonTimeout},
		{errors.New("Overloaded"), KindProvider, ReasonRateLimited},
		{errors.New("model_not_found"), KindProvider, ReasonModelUnavailable},
		{errors.New("empty response from provider"), KindProvider, ReasonUnavailable},
		{errors.New("Invalid request: messages must not be empty"), KindClient, ReasonInvalidRequest},
		{errors.New("flagged by content policy"), KindClient, ReasonContentPolicy},
		{errors.New("authentication failed"), KindClient, ReasonUnauthorized},
		{errors.New("something odd happened"), KindUnknown, ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.reason, c.Reason)
		})
	}
}

func TestClassify_ErrorChain(t *testing.T) {
	assert.Equal(t, KindCancelled, Classify(fmt.Errorf("read: %w", context.Canceled)).Kind)
	assert.Equal(t, KindProvider, Classify(fmt.Errorf("read: %w", context.DeadlineExceeded)).Kind)
	assert.Equal(t, KindProvider, Classify(fmt.Errorf("read body: %w", io.ErrUnexpectedEOF)).Kind)

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	c := Classify(opErr)
	assert.Equal(t, KindProvider, c.Kind)
	assert.Equal(t, ReasonConnection, c.Reason)
}

func TestClassify_AlreadyClassified(t *testing.T) {
	first := Classify(&statusErr{status: 503})
	assert.Same(t, first, Classify(fmt.Errorf("fallback: %w", first)))
	assert.True(t, errors.Is(first, first.Err))
}

func TestClassify_UserMessageHidesRawText(t *testing.T) {
	err := &statusErr{status: 502, body: "internal stack trace at upstream.go:12"}
	assert.True(t, IsProviderLevel(err))
	msg := UserMessage(err)
	assert.NotContains(t, msg, "upstream.go")
	assert.Contains(t, Classify(err).Error(), "status 502")
}
