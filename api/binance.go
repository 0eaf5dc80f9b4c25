package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/models"
	"nhooyr.io/websocket"
)

const wsEndpoint = "wss://stream.binance.com:9443/stream?streams="

// Binance subscribes to a live kline stream and pushes *closed* candles into
// CandleChannel. Open (still forming) bars are dropped so the streaming
// engine only ever sees final rows.
type Binance struct {
	ws            *websocket.Conn
	ctx           context.Context
	debugLog      *log.Logger
	errorLog      *log.Logger
	CandleChannel chan *models.Candle
	closing       context.Context
	closeSignal   context.CancelFunc
	subdata       *models.CandleSubscription
}

func NewBinance(ctx context.Context, sub *models.CandleSubscription) *Binance {
	closingCtx, cancelFunc := context.WithCancel(context.Background())
	b := &Binance{
		ctx:           ctx,
		debugLog:      logger.Debug,
		errorLog:      logger.Error,
		CandleChannel: make(chan *models.Candle, 1),
		closing:       closingCtx,
		closeSignal:   cancelFunc,
		subdata:       sub,
	}

	go b.handleSymbolSubscription()
	return b
}

// close signals shutdown and closes the exchange connection. CandleChannel is
// closed by its sender once it observes the signal, never from here: closing
// it out from under a concurrent send would crash the ws goroutine.
func (b *Binance) close() {
	b.closeSignal()

	if b.ws != nil {
		b.ws.Close(websocket.StatusNormalClosure, "Closed by client")
	}
}

func (b *Binance) done() bool {
	select {
	case <-b.closing.Done():
		return true
	default:
		return false
	}
}

// deliver forwards a closed candle to the consumer, giving up once shutdown
// has been signalled. Reports whether the loop should keep running; on false
// the channel has been closed and the caller must return.
func (b *Binance) deliver(c *models.Candle) bool {
	select {
	case b.CandleChannel <- c:
		return true
	case <-b.closing.Done():
		close(b.CandleChannel)
		return false
	}
}

func (b *Binance) subscribe(sub *models.CandleSubscription) error {
	endpoint := createWsEndpoint(sub.Symbol, sub.Interval)

	conn, _, err := websocket.Dial(b.ctx, endpoint, nil)
	if err != nil {
		b.errorLog.Printf("dial: %v", err)
		return err
	}
	b.ws = conn

	go b.handleWsLoop()

	return nil
}

func (b *Binance) handleWsLoop() {
	b.debugLog.Printf("Websocket loop started for %s@kline_%s\n", b.subdata.Symbol, b.subdata.Interval)

	const maxReconnectAttempts = 10
	reconnectAttempts := 0
	for {
		if b.done() {
			close(b.CandleChannel)
			return
		}

		b.ws.SetReadLimit(65536)
		_, msg, err := b.ws.Read(b.ctx)
		if err != nil {
			if b.done() || errors.Is(err, b.ctx.Err()) {
				b.debugLog.Println("Websocket loop stopping.", err)
				close(b.CandleChannel)
				return
			}

			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
				websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				reconnectAttempts++
			}

			if reconnectAttempts >= maxReconnectAttempts {
				b.debugLog.Println("Max number of reconnections reached. Giving up.")
				b.close()
				close(b.CandleChannel)
				return
			}
			b.debugLog.Printf(
				"WebSocket connection dropped, attempting to reconnect -> %d",
				reconnectAttempts,
			)
			if err := b.subscribe(b.subdata); err != nil {
				backoff := time.Second * time.Duration(
					math.Pow(2, float64(reconnectAttempts)),
				)
				b.debugLog.Printf("Backing off for duration -> %f", backoff.Seconds())
				time.Sleep(backoff)
				continue
			}
			// The fresh handleWsLoop goroutine owns the connection and the
			// channel from here on.
			return
		}

		candle, closed, err := parseKlineEvent(msg)
		if err != nil {
			b.errorLog.Printf("dropping malformed kline event: %v", err)
			continue
		}
		if closed && !b.deliver(candle) {
			return
		}
	}
}

func (b *Binance) handleSymbolSubscription() {
	if err := b.subscribe(b.subdata); err != nil {
		b.errorLog.Printf("subscription error: %v\n", err)
		b.close()
		// No ws loop ever started, so no sender owns the channel.
		close(b.CandleChannel)
		return
	}

	// Gracefully close WS conn to Binance
	<-b.ctx.Done()
	b.close()
}

// parseKlineEvent decodes a combined-stream kline payload. The second return
// value reports whether the bar is closed.
func parseKlineEvent(msg []byte) (*models.Candle, bool, error) {
	var event struct {
		Data struct {
			Kline struct {
				OpenTime int64  `json:"t"`
				Open     string `json:"o"`
				High     string `json:"h"`
				Low      string `json:"l"`
				Close    string `json:"c"`
				Volume   string `json:"v"`
				Closed   bool   `json:"x"`
			} `json:"k"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, false, err
	}

	k := event.Data.Kline
	c := &models.Candle{OpenTime: time.UnixMilli(k.OpenTime).UTC()}
	for _, f := range []struct {
		src string
		dst *float64
	}{
		{k.Open, &c.Open},
		{k.High, &c.High},
		{k.Low, &c.Low},
		{k.Close, &c.Close},
		{k.Volume, &c.Volume},
	} {
		v, err := strconv.ParseFloat(f.src, 64)
		if err != nil {
			return nil, false, err
		}
		*f.dst = v
	}
	return c, k.Closed, nil
}

func createWsEndpoint(symbol string, interval string) string {
	return fmt.Sprintf("%s%s@kline_%s", wsEndpoint, symbol, interval)
}
