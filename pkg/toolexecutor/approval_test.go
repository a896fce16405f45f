package toolexecutor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubApprovalHandler struct {
	response ApprovalResponse
	err      error
	delay    time.Duration
}

func (s *stubApprovalHandler) RequestApproval(ctx context.Context, _ ApprovalRequest) (ApprovalResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ApprovalResponse{}, ctx.Err()
		}
	}
	return s.response, s.err
}

func TestApprovalManager(t *testing.T) {
	ctx := context.Background()
	req := ApprovalRequest{Command: "npm install", Reason: "installs packages"}

	t.Run("should return the handler decision", func(t *testing.T) {
		am := NewApprovalManager(AutoApproveHandler{})
		ok, err := am.RequestApproval(ctx, req)
		require.NoError(t, err)
		assert.True(t, ok)

		am = NewApprovalManager(AutoDenyHandler{})
		ok, err = am.RequestApproval(ctx, req)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should deny on handler error", func(t *testing.T) {
		am := NewApprovalManager(&stubApprovalHandler{err: errors.New("offline")})
		ok, err := am.RequestApproval(ctx, req)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("should deny on timeout", func(t *testing.T) {
		am := NewApprovalManager(&stubApprovalHandler{delay: time.Second, response: ApprovalResponse{Approved: true}})
		am.SetDefaultTimeout(20 * time.Millisecond)
		ok, err := am.RequestApproval(ctx, req)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("should error without a handler", func(t *testing.T) {
		var am *ApprovalManager
		ok, err := am.RequestApproval(ctx, req)
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestCLIApprovalHandler(t *testing.T) {
	ctx := context.Background()
	req := ApprovalRequest{Command: "make deploy", Cwd: "/work", Reason: "not read-only"}

	cases := []struct {
		input    string
		approved bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}
	for _, tc := range cases {
		t.Run("should handle input "+strings.TrimSpace(tc.input), func(t *testing.T) {
			var out bytes.Buffer
			h := NewCLIApprovalHandler(strings.NewReader(tc.input), &out)
			resp, err := h.RequestApproval(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, tc.approved, resp.Approved)
			assert.Contains(t, out.String(), "make deploy")
			assert.Contains(t, out.String(), "not read-only")
		})
	}
}
