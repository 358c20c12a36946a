package sip2

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/sip2-server/pkg/config"
	"github.com/yourusername/sip2-server/pkg/ils"
)

func startTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	cfg.Listen = "127.0.0.1:0"
	srv := NewServer(cfg, ils.NewMemorySeeded(cfg.Institution))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			t.Errorf("server failed: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

func dialTestServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	c, err := Dial(srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServerHandshakeAndCirculation(t *testing.T) {
	srv := startTestServer(t, testConfig())
	c := dialTestServer(t, srv)

	st, err := c.SCStatus("2.00")
	require.NoError(t, err)
	require.True(t, st.OnLine)
	require.True(t, st.CheckoutOK)
	require.Equal(t, "2.00", st.Version)
	require.Equal(t, "UWOLS", st.Institution)

	status, fields, err := c.PatronStatus("UWOLS", "djfiander", "6789")
	require.NoError(t, err)
	require.Equal(t, "              ", status)
	require.Equal(t, "David J. Fiander", fields[FidPersonalName])
	require.Equal(t, "Y", fields[FidValidPatronPwd])

	ok, fields, err := c.Checkout("UWOLS", "djfiander", "1565921879")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Perl 5 desktop reference", fields[FidTitleID])
	require.NotEmpty(t, fields[FidDueDate])

	info, err := c.PatronInformation("UWOLS", "djfiander", "")
	require.NoError(t, err)
	require.Equal(t, "1565921879", info[FidChargedItems])

	ok, _, err = c.Checkin("UWOLS", "1565921879", "terminal-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestServerWithErrorDetection(t *testing.T) {
	srv := startTestServer(t, testConfig())
	c := dialTestServer(t, srv)
	c.ErrorDetection = true

	st, err := c.SCStatus("2.00")
	require.NoError(t, err)
	require.True(t, st.OnLine)

	_, fields, err := c.PatronStatus("UWOLS", "djfiander", "")
	require.NoError(t, err)
	require.Equal(t, "David J. Fiander", fields[FidPersonalName])

	stats := srv.Stats()
	require.Zero(t, stats.ChecksumFailures)
	require.GreaterOrEqual(t, stats.FramesRead, int64(2))
}

func TestServerRequiresLoginWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = map[string]config.Account{
		"term1": {Password: "secret", Institution: "UWOLS"},
	}
	srv := startTestServer(t, cfg)

	c := dialTestServer(t, srv)
	ok, err := c.Login("term1", "wrong", "branch")
	require.NoError(t, err)
	require.False(t, ok)

	c2 := dialTestServer(t, srv)
	ok, err = c2.Login("term1", "secret", "branch")
	require.NoError(t, err)
	require.True(t, ok)

	status, _, err := c2.PatronStatus("UWOLS", "djfiander", "")
	require.NoError(t, err)
	require.Len(t, status, 14)

	require.GreaterOrEqual(t, srv.Stats().LoginFailures, int64(1))
	require.GreaterOrEqual(t, srv.Stats().TotalConnections, int64(2))
}

func TestServerConnectionCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	srv := startTestServer(t, cfg)

	c1 := dialTestServer(t, srv)
	_, err := c1.SCStatus("2.00")
	require.NoError(t, err)

	// The second connection queues behind the limiter until the first
	// one closes.
	done := make(chan error, 1)
	go func() {
		c2, err := Dial(srv.Addr().String())
		if err != nil {
			done <- err
			return
		}
		defer c2.Close()
		_, err = c2.SCStatus("2.00")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c1.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("second connection never got through the limiter")
	}
}
