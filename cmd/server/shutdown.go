package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
)

// shutdown stops accepting requests, closes client connections, then stops
// the relay loop and releases the adapter, in that order.
func shutdown(
	ctx context.Context,
	httpServer *http.Server,
	srv *server.Server,
	adapter relay.Adapter,
	stopRelay context.CancelFunc,
	relayDone <-chan struct{},
	logger zerolog.Logger,
) error {
	timeout := shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error
	if err := server.ShutdownServer(httpServer, timeout/2, logger); err != nil {
		errs = append(errs, err)
	}
	if err := srv.Shutdown(timeout / 2); err != nil {
		errs = append(errs, err)
	}

	stopRelay()
	select {
	case <-relayDone:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if adapter != nil {
		if err := adapter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
