package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricName(t *testing.T) {
	t.Parallel()

	c := &Client{prefix: "booking"}
	tests := map[string]string{
		" session/refresh ": "booking.session_refresh",
		"foo..bar":          "booking.foo.bar",
		"a:b|c":             "booking.a_b_c",
		"..":                "",
		"":                  "",
	}
	for input, want := range tests {
		assert.Equal(t, want, c.metricName(input), input)
	}

	bare := &Client{}
	assert.Equal(t, "session.signin", bare.metricName("session.signin"))
}

func TestLine(t *testing.T) {
	t.Parallel()

	c := &Client{
		prefix:     "booking",
		globalTags: cleanTags(map[string]string{"env": "prod", " service ": " session "}),
	}

	got, ok := c.line("session.signin", "1", "c", map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
		"path":   "a|b,c",
	})
	require.True(t, ok)
	assert.Equal(t, "booking.session.signin:1|c|#env:stage,path:a_b_c,result:success,service:session", got)

	bare := &Client{}
	got, ok = bare.line("session.active", "0", "g", nil)
	require.True(t, ok)
	assert.Equal(t, "session.active:0|g", got)

	_, ok = bare.line(" .. ", "1", "c", nil)
	assert.False(t, ok)
}

func TestDisabledClientDropsMetrics(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	c.Count("session.refresh", 1, nil)
	c.Gauge("session.active", 1, nil)
	require.NoError(t, c.Close())

	var nilClient *Client
	nilClient.Count("x", 1, nil)
	nilClient.Gauge("x", 1, nil)
	nilClient.Timing("x", time.Second, nil)
	assert.NoError(t, nilClient.Close())
}

func TestClientWritesLines(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listener unavailable: %v", err)
	}
	defer pc.Close()

	c, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "booking.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Enabled())

	buf := make([]byte, 512)
	read := func() string {
		t.Helper()
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, readErr := pc.ReadFrom(buf)
		require.NoError(t, readErr)
		return string(buf[:n])
	}

	c.Count("session.signin", 1, map[string]string{"result": "success"})
	assert.Equal(t, "booking.session.signin:1|c|#env:test,result:success", read())

	c.Timing("session.refresh", 1500*time.Microsecond, nil)
	assert.Equal(t, "booking.session.refresh:1.5|ms|#env:test", read())

	c.Gauge("session.active", 1, nil)
	assert.Equal(t, "booking.session.active:1|g|#env:test", read())
}
