package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/errors"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveConnect(t *testing.T) {
	ObserveConnect(connector.KindInjected, nil)
	ObserveConnect(connector.KindInjected, errors.Wrap(connector.ErrWalletNotFound, "connect"))
	ObserveConnect(connector.KindInjected, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(connectAttempts.WithLabelValues("injected", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(connectAttempts.WithLabelValues("injected", "wallet_not_found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(connectAttempts.WithLabelValues("injected", "internal")))
}

func TestSink(t *testing.T) {
	var sink Sink
	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, connector.NewRecord("a", connector.KindWalletConnect,
		connector.Notification{Event: &connector.Event{Name: connector.EventConnect}})))
	require.NoError(t, sink.Publish(ctx, connector.NewRecord("a", connector.KindWalletConnect,
		connector.Notification{Err: connector.ErrDisconnected})))

	assert.Equal(t, float64(1), testutil.ToFloat64(notifications.WithLabelValues("walletconnect", "connect", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(notifications.WithLabelValues("walletconnect", "error", "8")))
}

func TestActiveSessions(t *testing.T) {
	SessionOpened(connector.KindWalletConnect)
	SessionOpened(connector.KindWalletConnect)
	SessionClosed(connector.KindWalletConnect)
	assert.Equal(t, float64(1), testutil.ToFloat64(activeSessions.WithLabelValues("walletconnect")))
}
