// Package ingest subscribes to bitcoind's ZMQ publishers and normalizes
// the raw pub-sub frames into models.MempoolEvent values on a channel.
package ingest

import (
	"context"
	"encoding/binary"
	"log"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq4 "github.com/go-zeromq/zmq4"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// Config holds the three ZMQ publisher endpoints. Sequence is optional:
// a blank value (or a socket that fails to connect) degrades gracefully
// to running without replacement/eviction detection via that topic.
type Config struct {
	RawTxEndpoint     string
	HashBlockEndpoint string
	SequenceEndpoint  string
}

// DefaultConfig matches bitcoind's conventional default zmq ports.
func DefaultConfig() Config {
	return Config{
		RawTxEndpoint:     "tcp://127.0.0.1:28333",
		HashBlockEndpoint: "tcp://127.0.0.1:28332",
		SequenceEndpoint:  "tcp://127.0.0.1:28336",
	}
}

// Subscriber runs the three topic loops and emits normalized events.
type Subscriber struct {
	cfg Config
}

// New builds a Subscriber.
func New(cfg Config) *Subscriber {
	return &Subscriber{cfg: cfg}
}

// Run subscribes to rawtx and hashblock (mandatory) and sequence
// (optional) and feeds normalized events into out until ctx is
// cancelled. It blocks until every topic goroutine has exited.
func (s *Subscriber) Run(ctx context.Context, out chan<- models.MempoolEvent) {
	done := make(chan struct{}, 3)

	go func() {
		runTopicLoop(ctx, "rawtx", s.cfg.RawTxEndpoint, true, out, handleRawTx)
		done <- struct{}{}
	}()
	go func() {
		runTopicLoop(ctx, "hashblock", s.cfg.HashBlockEndpoint, true, out, handleHashBlock)
		done <- struct{}{}
	}()
	go func() {
		if s.cfg.SequenceEndpoint != "" {
			runTopicLoop(ctx, "sequence", s.cfg.SequenceEndpoint, false, out, newSequenceHandler())
		}
		done <- struct{}{}
	}()

	for i := 0; i < 3; i++ {
		<-done
	}
}

// topicHandler decodes one received ZMQ frame body into an event. It
// returns ok=false for frames that decode to nothing actionable (e.g. a
// sequence label the engine doesn't act on).
type topicHandler func(body []byte) (models.MempoolEvent, bool)

// runTopicLoop owns one ZMQ SUB socket for the lifetime of ctx. On any
// connect/subscribe error it logs and retries with backoff; if
// mandatory is false a persistent failure is logged once and the topic
// is abandoned rather than retried forever, matching the optional
// sequence socket's graceful-degradation behavior.
func runTopicLoop(ctx context.Context, topic, endpoint string, mandatory bool, out chan<- models.MempoolEvent, handle topicHandler) {
	if endpoint == "" {
		return
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		sock := zmq4.NewSub(ctx)
		err := sock.Dial(endpoint)
		if err == nil {
			err = sock.SetOption(zmq4.OptionSubscribe, topic)
		}
		if err != nil {
			sock.Close()
			attempts++
			log.Printf("[ingest] %s: connect to %s failed: %v", topic, endpoint, err)
			if !mandatory && attempts >= 3 {
				log.Printf("[ingest] %s: giving up after %d attempts, continuing without this topic", topic, attempts)
				return
			}
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		attempts = 0
		backoff = time.Second
		log.Printf("[ingest] %s: subscribed at %s", topic, endpoint)

		recvErr := receiveLoop(ctx, sock, topic, out, handle)
		sock.Close()
		if ctx.Err() != nil {
			return
		}
		if recvErr != nil {
			log.Printf("[ingest] %s: socket error, reconnecting: %v", topic, recvErr)
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// receiveLoop reads frames until the socket errors, the context is
// cancelled, or sending a decoded event on out fails because out was
// closed/ctx done.
func receiveLoop(ctx context.Context, sock zmq4.Socket, topic string, out chan<- models.MempoolEvent, handle topicHandler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(msg.Frames) < 2 {
			continue
		}
		body := msg.Frames[1]

		ev, ok := handle(body)
		if !ok {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func handleRawTx(body []byte) (models.MempoolEvent, bool) {
	hash := chainhash.DoubleHashH(body)
	return models.TxAddedEvent{Txid: hash.String(), Raw: append([]byte(nil), body...)}, true
}

func handleHashBlock(body []byte) (models.MempoolEvent, bool) {
	if len(body) != 32 {
		return nil, false
	}
	var h chainhash.Hash
	copy(h[:], body)
	return models.BlockConnectedEvent{BlockHash: h.String(), Height: 0}, true
}

// sequenceHandler decodes the mempool sequence topic's 41-byte frame
// (32-byte hash, 1-byte label, 8-byte little-endian counter) and tracks
// the running counter to warn on gaps. It holds no lock because each
// topic loop owns exactly one goroutine.
type sequenceHandler struct {
	lastSeq *uint64
}

func newSequenceHandler() topicHandler {
	h := &sequenceHandler{}
	return h.handle
}

func (h *sequenceHandler) handle(body []byte) (models.MempoolEvent, bool) {
	hashBytes, label, seq, ok := parseSequenceMessage(body)
	if !ok {
		log.Printf("[ingest] sequence: malformed frame of length %d", len(body))
		return nil, false
	}

	if h.lastSeq != nil {
		expected := *h.lastSeq + 1
		if seq != expected {
			missed := int64(seq) - int64(expected)
			if missed < 0 {
				missed = 0
			}
			log.Printf("[ingest] sequence: gap detected, missed %d event(s) (expected %d, got %d)", missed, expected, seq)
		}
	}
	h.lastSeq = &seq

	var hash chainhash.Hash
	copy(hash[:], hashBytes[:])
	hexHash := hash.String()

	switch label {
	case 'A':
		// rawtx is authoritative for additions; nothing to emit here.
		return nil, false
	case 'R':
		return models.TxRemovedEvent{Txid: hexHash, Reason: models.RemovalUnknown}, true
	case 'C':
		return models.BlockConnectedEvent{BlockHash: hexHash, Height: 0}, true
	case 'D':
		return models.BlockDisconnectedEvent{BlockHash: hexHash, Height: 0}, true
	default:
		log.Printf("[ingest] sequence: unknown label %q", label)
		return nil, false
	}
}

// parseSequenceMessage splits a sequence-topic frame into its 32-byte
// hash, 1-byte label, and 8-byte little-endian counter. It returns
// ok=false for any frame that isn't exactly 41 bytes.
func parseSequenceMessage(body []byte) (hash [32]byte, label byte, seq uint64, ok bool) {
	if len(body) != 41 {
		return hash, 0, 0, false
	}
	copy(hash[:], body[:32])
	label = body[32]
	seq = binary.LittleEndian.Uint64(body[33:41])
	return hash, label, seq, true
}
