package assistant

import (
	"image"
	"net"

	"github.com/screenpack/screenpack/decompressor"
	"github.com/screenpack/screenpack/squeeze"
)

// netEvents receives the network.Assistant events.
type netEvents Assistant

func (e *netEvents) OnReady() {
	a := (*Assistant)(e)
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	select {
	case a.sessionEnded <- struct{}{}:
	default:
	}
}

// OnHTTPStarting starts every session from an empty screen.
func (e *netEvents) OnHTTPStarting(port int) {
	e.dec.Reset()
}

func (e *netEvents) OnStarting(port int) {}

func (e *netEvents) OnAccepting(port int) {
	e.logger.Info("waiting for the assisted side", "port", port)
}

func (e *netEvents) OnAccepted(conn net.Conn) bool {
	return true
}

// OnConnected sends the current configurations to the new peer.
func (e *netEvents) OnConnected(conn net.Conn) {
	a := (*Assistant)(e)
	cfg := a.Config()
	if err := a.sendCaptureConfig(cfg.Capture); err != nil {
		a.logger.Warn("capture configuration not sent", "error", err)
	}
	if err := a.sendCompressorConfig(cfg.Compressor); err != nil {
		a.logger.Warn("compressor configuration not sent", "error", err)
	}
}

func (e *netEvents) OnByteReceived(n int) {
	e.bits.Add(float64(8 * n))
}

func (e *netEvents) OnMouseLocation(x, y int) {
	if e.renderer != nil {
		e.renderer.OnMouseLocation(x, y)
	}
}

func (e *netEvents) OnByteCount(n int64) {
	e.peer.Add(float64(n))
}

func (e *netEvents) OnIOError(err error) {
	e.logger.Warn("session ended", "error", err)
}

// decEvents receives the decompressor.Engine events.
type decEvents Assistant

func (e *decEvents) OnDeCompressed(c *squeeze.Capture, img *image.Gray, stats decompressor.Stats) {
	e.tiles.Add(float64(stats.Dirty))
	e.hits.Add(float64(stats.CacheHits))
	e.skipped.Add(float64(stats.Skipped))
	e.merged.Add(float64(stats.Merged))
	e.ratio.Add(stats.Ratio)
	if e.renderer != nil {
		e.renderer.OnCaptureUpdated(c.ID, img)
	}
}

// OnDeCompressorError drops the peer: the stream cannot be followed any
// further. The next session starts from a reset decompressor.
func (e *decEvents) OnDeCompressorError(err error) {
	e.logger.Error("dropping the assisted side", "error", err)
	e.net.Disconnect()
}
