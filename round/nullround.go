package round

import (
	"bytes"
	"fmt"

	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/wire"
)

// Broadcaster is the minimal overlay capability NullRound needs: the
// ability to broadcast one SessionData payload to every roster member.
// Declared locally so round never has to import the overlay package.
type Broadcaster interface {
	Broadcast(payload []byte) error
}

// DataSource pulls up to maxBytes of queued application data, the same
// shape as sessioncore.SendQueue.Get without importing it directly.
type DataSource func(maxBytes int) (data []byte, more bool)

// Warner receives a warning when a round observes a protocol anomaly it
// tolerates rather than aborts on (e.g. a duplicate sender).
type Warner func(format string, args ...any)

// maxBroadcastBytes is pulled as a fixed chunk per epoch rather than
// draining the queue in one shot.
const maxBroadcastBytes = 1024

// NullRound is the trivial anonymity round: every participant
// broadcasts one chunk, and the round finishes once every server and
// client has been heard from exactly once. It provides no anonymity on
// its own; it exists so the session and its properties (roster
// consistency, at-most-once delivery, send-queue rewind) can be
// exercised without a real BlogDrop-style layer.
type NullRound struct {
	servers *identity.Roster
	clients *identity.Roster
	localId identity.Id
	nonce   []byte

	broadcaster Broadcaster
	dataSource  DataSource
	warn        Warner
	onData      func(sender identity.Id, data []byte)
	onFinished  FinishedFunc

	received map[identity.Id]bool
	total    int
	count    int

	finished   bool
	successful bool
}

// NewNullRound constructs a NullRound over the epoch's finalized
// server and client rosters. nonce is the epoch's RoundId, carried in
// every broadcast so receivers can cross-check they are in the same
// round.
func NewNullRound(servers, clients *identity.Roster, localId identity.Id, nonce []byte, broadcaster Broadcaster, dataSource DataSource, warn Warner) *NullRound {
	return &NullRound{
		servers:     servers,
		clients:     clients,
		localId:     localId,
		nonce:       nonce,
		broadcaster: broadcaster,
		dataSource:  dataSource,
		warn:        warn,
		received:    make(map[identity.Id]bool, servers.Len()+clients.Len()),
		total:       servers.Len() + clients.Len(),
	}
}

// OnData registers the callback invoked with each peer's real,
// non-empty payload as it arrives. Only one callback is kept.
func (r *NullRound) OnData(fn func(sender identity.Id, data []byte)) {
	r.onData = fn
}

func (r *NullRound) encode(data []byte) []byte {
	w := wire.NewWriter()
	w.Bytes(r.nonce)
	w.Bytes(data)
	return w.Out()
}

func (r *NullRound) decode(payload []byte) (nonce, data []byte, err error) {
	rd := wire.NewReader(payload)
	nonce = rd.Bytes()
	data = rd.Bytes()
	if err := rd.Err(); err != nil {
		return nil, nil, err
	}
	return nonce, data, nil
}

// Start broadcasts this participant's one chunk for the epoch.
func (r *NullRound) Start() error {
	data, _ := r.dataSource(maxBroadcastBytes)
	return r.broadcaster.Broadcast(r.encode(data))
}

// ProcessPacket records sender's contribution, ignoring (with a
// warning) a second message from a sender already heard from this
// epoch, and finishes successfully once every roster member has been
// heard from exactly once.
func (r *NullRound) ProcessPacket(sender identity.Id, payload []byte) error {
	if r.finished {
		return nil
	}
	if r.received[sender] {
		if r.warn != nil {
			r.warn("nullround: received a second message from %s", sender)
		}
		return nil
	}

	nonce, data, err := r.decode(payload)
	if err != nil {
		return fmt.Errorf("nullround: decode packet from %s: %w", sender, err)
	}
	if !bytes.Equal(nonce, r.nonce) {
		return fmt.Errorf("nullround: packet from %s carries a different round nonce", sender)
	}

	r.received[sender] = true
	r.count++
	if len(data) > 0 && r.onData != nil {
		r.onData(sender, data)
	}

	if r.count != r.total {
		return nil
	}

	r.successful = true
	r.finish("round successfully finished")
	return nil
}

// Stop externally terminates the round as unsuccessful.
func (r *NullRound) Stop(reason string) {
	if r.finished {
		return
	}
	r.successful = false
	r.finish(reason)
}

func (r *NullRound) finish(reason string) {
	r.finished = true
	if r.onFinished != nil {
		r.onFinished(r.successful, reason)
	}
}

// OnFinished registers the round-completion callback.
func (r *NullRound) OnFinished(fn FinishedFunc) {
	r.onFinished = fn
}

// Successful reports the round's outcome. Meaningful only after
// OnFinished's callback has fired.
func (r *NullRound) Successful() bool {
	return r.successful
}
